// Package script loads the transactions user groups run.
//
// A group's script key is either the name of a JavaScript file in the
// project's test_scripts directory or the name of a compiled-in
// transaction ("http", "websocket"). A JavaScript file defines a global
// Transaction constructor whose instances have a run() method:
//
//	var CAPABILITY = "group";
//
//	class Transaction {
//	  constructor(groupConfig) { this.url = groupConfig.url; }
//	  run() {
//	    var start = now();
//	    var resp = http.get(this.url);
//	    this.custom_timers.fetch = now() - start;
//	    if (resp.status !== 200) throw new Error("status " + resp.status);
//	  }
//	}
//
// CAPABILITY is "none" (the default), "group" or "group_and_global" and
// selects which configuration maps the constructor receives. Every
// instance gets thread_num, process_num and an empty custom_timers object
// after construction; an optional custom_fields object is recorded too.
// Scripts can call console.log, sleep(seconds), now(), gjson(json, path),
// http.get(url, headers) and http.post(url, body, headers).
package script
