package remedy

import "github.com/liberty-specpriv/specpriv/pkg/pdg"

// AnnotateGraph fills in Removable/RemedyCost/RemedyName on every edge of g
// by building a Query for it (via the caller-supplied lookups, since the
// PDG's NodeID space and the AU/heap/profile data it maps to are owned by
// different external collaborators) and recording the cheapest applicable
// Remedy. Edges no remediator can discharge are left with Removable=false.
func AnnotateGraph(g *pdg.Graph, build func(pdg.Edge) Query, cat []Remediator) {
	for i, e := range g.Edges {
		q := build(e)
		q.Edge = e

		proposals := Propose(cat, q)

		best := Cheapest(proposals)
		if best == nil {
			continue
		}

		g.Edges[i].Removable = true
		g.Edges[i].RemedyCost = best.Cost
		g.Edges[i].RemedyName = best.Name
	}
}
