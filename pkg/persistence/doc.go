// Package persistence provides the key-value stores that relay state
// survives restarts in.
//
// Components never talk to a backend directly. They receive a Store, usually
// scoped with Namespace, and treat every read failure as "value absent":
//
//	store, _ := persistence.NewFileStore("/var/lib/relay/state.json")
//	svc := persistence.Namespace(store, "service")
//	_ = svc.Save("current_state", []byte("RUNNING"))
//
// Three backends are provided: FileStore (a single JSON document), BadgerStore
// (embedded BadgerDB) and MemoryStore (tests).
package persistence
