// Package doca manages the lifecycle of DMA offload resources -- devices,
// memory maps, buffer inventories, buffers, execution contexts and work
// queues -- and drives an asynchronous submit/poll job protocol against an
// offload engine.
//
// The actual driver operations (device open/close, memory registration, job
// execution) go through the Backend interface; backends are registered by
// name with RegisterBackend. The emu package provides a pure-Go software
// backend used by the tests and the sample programs.
//
// Teardown ordering is strict and mirrors the construction dependencies:
// work queue before context, context before its devices, buffers before
// their inventory and map, map before its devices. Each wrapper type holds
// references to everything it depends on, so dropping handles in the wrong
// order cannot release a resource that is still in use -- but Destroy/Close
// must still be called in the documented order.
package doca
