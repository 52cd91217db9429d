// Package pkg provides the core libraries of cellforge, a toolkit for
// building analog schematics programmatically and evaluating them across
// parameter sweeps.
//
// # Overview
//
// The pkg directory is organized into four areas:
//
//  1. Domain: [geom], [connpos], [units], [schematic], [stimulus], [waveform]
//  2. Backends: [backend] declares the schematic and simulator interfaces;
//     [backend/memory] implements both in memory
//  3. Orchestration: [script] (HCL build scripts), [sim] (simulation runs),
//     [sweep] (parallel parameter sweeps)
//  4. Infrastructure: [cache], [store], [api], [config], [observability],
//     [errors], [buildinfo]
//
// # Architecture
//
// The typical data flow:
//
//	HCL script / Go code
//	         ↓
//	    [schematic] (place instances, pins and wires through a backend)
//	         ↓
//	    [schematic.Document] (replayable command log, topology hash)
//	         ↓
//	    [sweep] / [sim] (replay per workspace, evaluate, collect)
//	         ↓
//	    [cache] / [store] / [api]
//
// # Quick Start
//
//	be := memory.New()
//	sch, err := schematic.New(ctx, be, "work", "inv", schematic.Options{})
//	mn, err := sch.CreateInstance(ctx, "analogLib", "nmos4", schematic.At(0, 0), "MN0", geom.R0)
//	...
//	res, err := sch.Save(ctx, schematic.SaveOptions{Callbacks: true})
//
// # Infrastructure
//
// Caching goes through [cache.Cache] (file, Redis or none). Documents and
// runs are persisted by [store.Store] (files or MongoDB). All errors carry
// a [errors.Code] so callers and the HTTP API can classify them.
package pkg
