package tinygraph

/*
TinyGraph is a transactional client for a distributed graph database whose alpha nodes speak gRPC. It spreads calls
over a set of channels, runs queries and mutations inside optimistic transactions stamped by the server, and retries
whole units of work when the server reports a conflict or is briefly unavailable.

Building TinyGraph produces one executable: graph-ctl, a command line client with an interactive shell and a small
benchmark.

The `tinygraph` module is organized into the following packages:

* `client`: the client, its transactions and the retry policy.
* `config`: client settings, loaded from TOML.
* `proto`: the protobuf messages exchanged with an alpha and the api.Dgraph gRPC service.
* `pkg`: gRPC dialing, a mock server used by tests and small helpers.
* `cmd/graph-ctl`: the command line client.
*/
