// Package vom manages virtual objects: instances of user-defined kinds whose
// state lives in the store and whose in-process Representatives may be
// collected and reanimated at any time.
//
// State is a fixed set of named fields, each serialized on its own. The
// state of base ref B is stored under "vom.<B>" and cached in a bounded
// write-back LRU; dirty state reaches the store on eviction or Flush.
// Durable kinds are recorded by tag ("vom.kindtag.<tag>" and
// "vom.dkind.<kindID>") so a restarted vat redefining the tag gets the same
// kind ID back.
package vom
