// Package harness runs YAML-defined composition scenarios against a
// freshly built world and validates the results as executable contract
// tests.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	scene: path/to/scene/dir
//	steps:
//	  - op: set_local
//	    entity: /World/Knight
//	    property: stats:armor
//	    value: 12
//	  - op: read
//	    entity: /World/Knight
//	    property: stats:armor
//	checks:
//	  - entity: /World/Knight
//	    property: stats:armor
//	    value: 12
//	    source: local
//	    author: /World/Knight
//	    cached: true
//
// A relative scene path resolves against the scenario file's directory.
//
// # Steps
//
// Steps mutate or probe the world in order: define, remove, set_local,
// clear_local, add_arc, remove_arc, set_payload_loaded, select_variant,
// set_active, read, classify, and advance. A read resolves through the
// cache, so later checks can assert on warm-cache behavior; classify and
// advance drive the tier manager and its deterministic clock.
//
// # Checks
//
// A property check resolves the property and compares any subset of value,
// source (winning arc kind or "default"), author (the entity whose local
// content won), and cached. A tier check compares the entity's committed
// tier. Expected values are decoded against the property's declared kind.
//
// # Deterministic Testing
//
// Every scenario builds a fresh registry, store, engine, cache, and tier
// manager, with the tier manager on a manually advanced clock pinned to
// the Unix epoch. Identical scenarios produce identical traces, which is
// what the golden files under testdata/golden capture.
//
// # Usage
//
// Load and run a scenario:
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/elite_carrot.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
