// Package binding loads and hot-reloads the JSON binding file of an
// interface bridge.
//
// A binding maps local events to outbound actions:
//
//	{
//	  "context": {
//	    "options": {"host": "10.0.0.5", "port": 8086},
//	    "discoveryQuery": {"name": "_influx._tcp.local", "type": "SRV"}
//	  },
//	  "events": [
//	    {"event": "temps", "action": {"measurement": "pool", "fields": {"air": "{{.data.air}}"}}}
//	  ]
//	}
//
// The interface's configured options form the base context and sit under
// the file's own context.options; the file wins on conflicts.
//
// # Reload
//
// Loader watches the file's directory and reloads on change. A
// notification arriving while a load is in progress is dropped, and a
// notification whose file modification time equals the last successful
// load is skipped. A failed reload keeps the previous binding active.
// Readers call Current and always see a complete binding.
package binding
