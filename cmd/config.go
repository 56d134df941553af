package cmd

const DESCRIPTION = `
dlmgr is a download manager daemon with a small command-line client.
Requests are queued under a network constraint, started when a slot is
free, and kept in a durable log so they survive daemon restarts.
`

const (
	DaemonDescription = `The daemon command runs the download service in the
foreground. Flags override the config file and DLMGR_* variables.

Example:
        dlmgr daemon --max-active 3 --log-level debug

`
	AddDescription = `The add command creates a request for the url and
starts it. The request is queued until the network constraint is met
and a transfer slot is free.

Example:
        dlmgr add -d ~/isos -o debian.iso -H "Referer: https://x" https://domain.com/file.iso

`
	ControlDescription = `The %s command acts on the request with the given id.

Example:
        dlmgr %s 42

`
	InfoDescription = `The info command prints every field the daemon holds
for a request: state, error, url, paths and sizes.

Example:
        dlmgr info 42

`
	HeadersDescription = `The headers command lists, adds or removes the HTTP
request headers of a request. A request that is not running can be
edited.

Example:
        dlmgr headers 42
        dlmgr headers add 42 "Cookie: a=b"
        dlmgr headers rm 42 Cookie

`
	WatchDescription = `The watch command shows live progress bars for one
or more requests until they finish or stop.

Example:
        dlmgr watch 42 43

`
	ListDescription = `The list command reads the resident requests over
the monitoring side channel. A secret is required (rpc.secret,
DLMGR_RPC_SECRET or the keyring).

Example:
        dlmgr list --status active

`
	StopDaemonDescription = `The stop-daemon command signals the daemon whose pid
is recorded in the data directory and waits for it to exit.

Example:
        dlmgr stop-daemon

`
)
