/*
Package inmem implements the agentstore interface. This implementation is meant
to help get an instance of lookout up and running quickly without a need to setup
a dedicated database. Since the current implementation does not persist anything
across restarts, it is recommended for test environments only.
*/
package inmem
