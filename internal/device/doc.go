// Package device provides the device registry for FleetWatch Core.
//
// The registry is the in-memory catalogue of monitored endpoints. Each device
// carries an identity, a kind with kind-specific details, an append-only
// activity log built from fragments, and an ordered IP observation history.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────────────┐
//	│                           Device Registry                               │
//	│                                                                         │
//	│  ┌──────────────────┐    ┌──────────────────┐    ┌──────────────────┐   │
//	│  │     Registry     │    │      Store       │    │     Journal      │   │
//	│  │   (registry.go)  │───▶│    (store.go)    │───▶│   (journal.go)   │   │
//	│  │                  │    │                  │    │                  │   │
//	│  │ • Public API     │    │ • Device map     │    │ • Write-behind   │   │
//	│  │ • Events         │    │ • Per-device lock│    │ • Single writer  │   │
//	│  │ • Restore        │    │ • Log + IP state │    │ • Bounded queue  │   │
//	│  └──────────────────┘    └──────────────────┘    └──────────────────┘   │
//	│           │                                               │             │
//	└───────────│───────────────────────────────────────────────│─────────────┘
//	            ▼                                               ▼
//	┌──────────────────────┐                       ┌──────────────────────┐
//	│  EventSink           │                       │  Repository          │
//	│  • WebSocket hub     │                       │  (repository.go)     │
//	│  • MQTT publisher    │                       │  • SQLite tables     │
//	└──────────────────────┘                       └──────────────────────┘
//
// # Usage
//
//	registry := device.NewRegistry()
//	registry.SetLogger(log)
//
//	journal := device.NewJournal(device.NewSQLiteRepository(db), device.JournalConfig{})
//	registry.SetJournal(journal)
//	if err := registry.Restore(ctx); err != nil {
//	    return err
//	}
//	journal.Start(ctx)
//	defer journal.Close()
//
//	registry.Register("lt-0042", "Finance laptop")
//	registry.AppendLog("lt-0042", "ab")
//	full, _ := registry.AppendLog("lt-0042", "cd") // "abcd"
//	registry.RecordIP("lt-0042", "192.168.1.1")
//
// # Thread Safety
//
// The device map is guarded by a read-write lock that is only held for
// membership changes and lookups. Each device has its own mutex, so calls on
// different devices proceed in parallel and calls on one device are applied
// in the order they acquire its lock. A device removed while a call waits for
// its lock is reported as ErrDeviceNotFound.
package device
