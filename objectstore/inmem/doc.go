/*
Package inmem implements the objectstore interface. This implementation is meant
to help get an instance of lookout up and running quickly without a need to setup
a dedicated object store. Since the current implementation keeps every blob in
process memory, it is recommended for test environments only.
*/
package inmem
