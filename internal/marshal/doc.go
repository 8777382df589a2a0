// Package marshal converts vat values to and from capdata.
//
// Capdata is a JSON body plus a slot table. Every reference in a value is
// replaced in the body by {"@qclass":"slot","index":i} and its vref is
// listed once in Slots. Refcounting and durability checks work on Slots
// alone, so they never need to decode the body.
//
// Supported values: nil, bool, int64 (and int), float64, string, []any,
// map[string]any and *localref.Ref. Integers are tagged as bigints so they
// survive a round trip unchanged; plain JSON numbers decode as float64.
package marshal
