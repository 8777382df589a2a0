// Package vatstore is the virtualization and garbage-collection core of a
// single-threaded vat.
//
// A vat keeps most of its objects in a key-value store rather than in
// memory. Virtual objects and collections are written to the store and
// brought back on demand; the in-process values are only Representatives.
// An object stays alive while any of four pillars holds it: an in-process
// Ref, the kernel's reachable export, the kernel's recognizable export, or
// a reference from other virtual data.
//
// # Quick Start
//
//	ctx := context.Background()
//	sys := &vatstore.SyscallLog{}
//	vat, _ := vatstore.Open(ctx, kvstore.NewMemoryStore(), sys)
//
//	counter, _ := vat.DefineKind(ctx, "counter", []string{"n"}, vatstore.Durable())
//	c, _ := counter.Make(ctx, map[string]any{"n": int64(0)})
//	_ = vat.Baggage().Init(ctx, "counter", c)
//
// # Cranks
//
// Userspace code runs inside Deliver. Cached object state is written back
// when the crank ends, so the store contents are the same whether or not
// the cache evicted in between:
//
//	err := vat.Deliver(ctx, func(ctx context.Context) error {
//	    n, err := vat.Get(ctx, c, "n")
//	    if err != nil {
//	        return err
//	    }
//	    return vat.Set(ctx, c, "n", n.(int64)+1)
//	})
//
// # Garbage Collection
//
// Nothing is deleted during ordinary cranks. BringOutYourDead drains the
// finalizer callbacks of collected Refs, deletes every object no pillar
// holds, cascading through the data it referenced, and tells the kernel
// which imports it dropped or retired and which exports are gone:
//
//	report, _ := vat.BringOutYourDead(ctx)
//	fmt.Println(report.DropImports, report.RetireImports, report.RetireExports)
//
// # Durability
//
// Durable kinds, durable collections and the baggage survive a restart:
// Open on the same store, redefine the durable kinds and read them back
// from the baggage. Virtual (non-durable) data does not survive.
//
// # Backends
//
// Any ordered key-value store works. kvstore provides an in-memory store;
// kvstore/sqlstore (SQLite, Postgres), kvstore/redisstore and
// kvstore/dynamostore persist. Vat.Snapshot streams a store into a
// blobstore (local, S3 or MinIO) and kvstore.Import restores it.
package vatstore
