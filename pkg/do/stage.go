package do

import "github.com/cuemby/dfms/pkg/types"

// Stage is the common capability every application consumer implements
// (spec §4.4). It is intentionally minimal: AppInitialize receives the
// options the graph descriptor recognized for this stage and is called
// once, right after the owning DataObject is fully wired.
//
// Concrete stages implement one of DeferredStage, ImmediateStage, or both
// (a container application consumer is typically a DeferredStage whose Run
// writes into its own children instead of itself — spec §4.3 rule 4).
type Stage interface {
	AppInitialize(self *DataObject, opts []types.Option) error
}

// DeferredStage runs once, after its producer reaches COMPLETED (spec
// §4.3 rule 2). Run must read from producer via its public read API,
// write output via self's own write API, and terminate with
// self.SetCompleted() or return an error.
type DeferredStage interface {
	Stage
	Run(self *DataObject, producer *DataObject) error
}

// ImmediateStage receives each producer write synchronously (spec §4.3
// rule 3). Consume is called once per write, ConsumptionCompleted once
// when the producer reaches COMPLETED.
type ImmediateStage interface {
	Stage
	Consume(self *DataObject, producer *DataObject, data []byte) error
	ConsumptionCompleted(self *DataObject, producer *DataObject) error
}
