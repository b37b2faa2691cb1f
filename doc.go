package tinydoc

/*
TinyDoc is a small sharded document store intended for teaching and experimentation. It is not suitable for production
use.

Building TinyDoc produces three executables: tinydoc-server, config-server and docctl. The first is a data node serving
documents, sessions and queryable encryption CRUD. The second is the config server: it owns the shard registry and the
routing tables of sharded collections and runs the balancer. docctl drives the config server over its HTTP API.

The `tinydoc` module is organized into the following packages:

* `kv`: the data node. `kv/fle` rewrites CRUD on encrypted collections, `kv/session` checks out logical sessions and
  their transaction participants, `kv/txnapi` runs retryable internal transactions, `kv/storage` is the document store.
* `pkg`: code shared by both servers: error codes, namespaces, authorization, operation contexts, replication state and
  shard key encoding.
* `scheduler`: the config server. `scheduler/server/command` dispatches typed commands such as `_configsvrMoveRange`,
  `scheduler/server/balancer` moves chunks between shards, `scheduler/server/catalog` keeps the routing tables.
*/
