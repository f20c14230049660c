// Package dupwalk crawls a directory tree, fingerprints every regular file with a
// 256-bit digest and reports files whose contents are identical.
//
// # Core API
//
// A run needs two worker pools, a digest computer, a store and a walker:
//
//	pools := dupwalk.NewPools(0, 0)
//	computer, err := dupwalk.NewDigestComputer(pools.IO, dupwalk.DigestOptions{})
//	store := dupwalk.NewStore(computer, pools.Orchestration, nil, logger)
//	store.AddListener(func(ev dupwalk.DuplicateEvent) {
//		fmt.Printf("%s now has %d copies\n", ev.Fingerprint, ev.Count)
//	})
//	walker, err := dupwalk.NewWalker("/path/to/tree", store, pools, dupwalk.WalkerOptions{})
//	err = walker.Run(ctx)
//	pools.Shutdown()
//
// Folders are processed stalest first, using the modification time of the
// .folder_info marker written into each folder once everything under it is done.
// Files whose modification time is not after their stored digest are not reread.
//
// # Persistence
//
// State lives in .duplicate_info under the root. LoadStore restores it before a
// run, a Sidecar saves it periodically and SaveStore writes it at the end:
//
//	backend, err := dupwalk.OpenBackend("file", stateDir, computer.Algorithm().TypeID)
//	dupwalk.LoadStore(backend, store, logger)
//	go dupwalk.NewSidecar(backend, store, time.Minute, logger, metrics).Run(ctx)
//
// # Configuration
//
// LoadConfig reads .duplicate_info/config (go-ini), writing defaults on first use.
// Debug output is switched on per area:
//
//	dupwalk.SetDebugFlags("walk,store")
//	dupwalk.SetVerboseLevel(3)
package dupwalk
