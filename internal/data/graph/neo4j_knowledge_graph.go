package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/conceptmesh/backend/internal/platform/logger"
	"github.com/conceptmesh/backend/internal/platform/neo4jdb"
	"github.com/conceptmesh/backend/internal/types"
)

// UpsertKnowledgeGraph mirrors a validated graph into Neo4j. Nodes MERGE on
// id; edges MERGE on (from, to, relationship). Callers treat failures as
// non-fatal: the JSON payload in Postgres remains the record of truth.
func UpsertKnowledgeGraph(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, graphID uuid.UUID, data *types.GraphData) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	if graphID == uuid.Nil {
		return fmt.Errorf("neo4j graph sync: missing graphID")
	}
	if data == nil {
		return fmt.Errorf("neo4j graph sync: missing graph data")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	nodes := make([]map[string]any, 0, len(data.Nodes))
	for _, n := range data.Nodes {
		if n.ID == "" {
			continue
		}
		nodes = append(nodes, map[string]any{
			"id":        n.ID,
			"graph_id":  graphID.String(),
			"title":     n.Title,
			"node_type": n.NodeType,
			"summary":   n.Summary,
			"synced_at": now,
		})
	}

	rels := make([]map[string]any, 0, len(data.Edges))
	for _, e := range data.Edges {
		if e.From == "" || e.To == "" || e.Relationship == "" {
			continue
		}
		strength := 0.0
		if e.Strength != nil {
			strength = *e.Strength
		}
		rels = append(rels, map[string]any{
			"from_id":      e.From,
			"to_id":        e.To,
			"relationship": e.Relationship,
			"explanation":  e.Explanation,
			"strength":     strength,
			"graph_id":     graphID.String(),
			"synced_at":    now,
		})
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	// Schema helpers are best-effort; restricted users may not be allowed.
	if res, err := session.Run(ctx, `CREATE CONSTRAINT concept_node_id_unique IF NOT EXISTS FOR (c:ConceptNode) REQUIRE (c.graph_id, c.id) IS UNIQUE`, nil); err != nil {
		if log != nil {
			log.Warn("neo4j schema init failed (continuing)", "error", err)
		}
	} else {
		_, _ = res.Consume(ctx)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(nodes) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (c:ConceptNode {graph_id: n.graph_id, id: n.id})
SET c += n
`, map[string]any{"nodes": nodes})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}

		if len(rels) > 0 {
			res, err := tx.Run(ctx, `
UNWIND $rels AS r
MATCH (a:ConceptNode {graph_id: r.graph_id, id: r.from_id})
MATCH (b:ConceptNode {graph_id: r.graph_id, id: r.to_id})
MERGE (a)-[e:RELATES {relationship: r.relationship}]->(b)
SET e.explanation = r.explanation,
    e.strength = r.strength,
    e.synced_at = r.synced_at
`, map[string]any{"rels": rels})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}
