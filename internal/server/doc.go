// Package server hosts the connection acceptor, the bounded worker pool that
// runs proxy.Handler for each client connection, process-wide counters, and
// the optional Fiber diagnostics application. The data plane speaks raw TCP;
// Fiber only serves /-/ admin paths on a separate listener. Keep exports
// narrow and accept explicit dependencies so main can wire everything.
package server
