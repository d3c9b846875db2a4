// Package epi provides the contract between compartmental epidemic models
// and the host that simulates them.
//
// The package defines the per-node buffers and the model interface:
//
//   - [Compartments]: integer counts per compartment in one node
//   - [ModelState]: continuous latent variables in one node
//   - [Params]: time-invariant per-node parameters
//   - [Model]: transition rates plus the post time step update
//   - [Node]: the (u, v, data) triple a host owns per node
//
// # Example
//
//	m := models.NewSISe()
//	rates := epi.Propensities(m, node, t, nil)
//	if m.PostTimeStep(node.U, node.V, node.Data, node.ID, t, node.SubDomain) {
//		epi.RecomputeStateDependent(m, node, t, rates)
//	}
//
// # Thread Safety
//
// Models hold no mutable state. Different nodes may be evaluated on
// different goroutines as long as each [Node] is owned by a single worker
// for the duration of a step; see [ParallelFor].
package epi
