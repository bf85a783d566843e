// Package consumer implements the concrete application-consumer stages
// (spec §4.4) that drive the test scenarios in spec §8: a CRC deferred
// stage, a handful of line-oriented pipeline stages (Grep, Sort,
// ReverseWords), an immediate stage that tracks the last byte seen
// (LastChar), a container application (EvenOddRouter) that routes a
// producer's content to two children, a NumberWriter deferred stage that
// emits a whitespace-separated integer sequence, and SumUp, the recursive
// container-checksum aggregator spec §9 and §13 resolve the "outer vs.
// nested child" ambiguity for.
//
// Every stage here implements do.Stage (and DeferredStage and/or
// ImmediateStage) by composition, per spec §9's design note: a DO is
// never subclassed, it merely holds one of these as its optional Stage.
package consumer
