package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/docsift/docsift/pkg/models"
)

// idNamespace makes point UUIDs a deterministic function of the chunk id,
// since Qdrant point ids must be integers or UUIDs. The original chunk id
// travels in the payload.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("docsift.chunks"))

// Qdrant is the managed-store backend. It serves dense queries only:
// keyword search and full id listing are unsupported here, and callers
// degrade per the documented fallbacks (semantic-only blending,
// upsert-without-delete sync).
type Qdrant struct {
	client     *qdrant.Client
	collection string
}

func NewQdrant(host string, port int, collection string) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, err
	}
	return &Qdrant{client: client, collection: collection}, nil
}

func (s *Qdrant) Close() { _ = s.client.Close() }

func (s *Qdrant) Init(ctx context.Context, dim int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(dim),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	}); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func (s *Qdrant) Upsert(ctx context.Context, chunks []models.EmbeddedChunk) error {
	pts := make([]*qdrant.PointStruct, len(chunks))
	for i, ec := range chunks {
		c := ec.Chunk
		payload := map[string]any{
			"id":         c.ID,
			"path":       c.Path,
			"framework":  string(c.Framework),
			"title":      c.Title,
			"heading":    c.Heading,
			"level":      c.Level,
			"parent_id":  c.ParentID,
			"source_url": c.SourceURL,
			"content":    c.Content,
		}
		// The payload is restricted to scalars; extras are flattened
		// under a prefix rather than nested.
		for k, v := range c.Extra {
			payload["extra_"+k] = v
		}

		pts[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(c.ID)),
			Vectors: qdrant.NewVectors(ec.Vector...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         pts,
	})
	return err
}

func (s *Qdrant) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = qdrant.NewIDUUID(pointID(id))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(pids...),
	})
	return err
}

func (s *Qdrant) DeleteAll(ctx context.Context) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{}),
	})
	return err
}

func (s *Qdrant) Query(ctx context.Context, vector []float32, topK int, f Filter) ([]Match, error) {
	limit := uint64(topK)
	var filter *qdrant.Filter
	if f.Framework != "" {
		filter = &qdrant.Filter{
			Should: []*qdrant.Condition{
				qdrant.NewMatch("framework", string(f.Framework)),
				qdrant.NewMatch("framework", string(models.FrameworkCommon)),
			},
		}
	}

	resp, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Limit:          &limit,
		Filter:         filter,
		Query:          qdrant.NewQuery(vector...),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(resp))
	for _, r := range resp {
		out = append(out, Match{
			Chunk: chunkFromPayload(r.Payload),
			Score: float64(r.Score),
		})
	}
	return out, nil
}

// KeywordQuery is unsupported: the collection carries dense vectors only.
func (s *Qdrant) KeywordQuery(ctx context.Context, query string, topK int, f Filter) ([]Match, error) {
	return nil, ErrUnsupported
}

// ListIDs is unsupported; smart update degrades to upsert-only against
// this backend and tells the caller so.
func (s *Qdrant) ListIDs(ctx context.Context) ([]string, error) {
	return nil, ErrUnsupported
}

func (s *Qdrant) GetChunk(ctx context.Context, id string) (models.Chunk, bool, error) {
	pts, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(pointID(id))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return models.Chunk{}, false, err
	}
	if len(pts) == 0 {
		return models.Chunk{}, false, nil
	}
	return chunkFromPayload(pts[0].Payload), true, nil
}

// Ping checks connectivity to the Qdrant service.
func (s *Qdrant) Ping(ctx context.Context) error {
	_, err := s.client.HealthCheck(ctx)
	return err
}

func (s *Qdrant) Stats(ctx context.Context) (int64, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
	})
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

func pointID(chunkID string) string {
	return uuid.NewSHA1(idNamespace, []byte(chunkID)).String()
}

func chunkFromPayload(payload map[string]*qdrant.Value) models.Chunk {
	var c models.Chunk
	extra := make(map[string]string)
	for k, v := range payload {
		switch k {
		case "id":
			c.ID = stringValue(v)
		case "path":
			c.Path = stringValue(v)
		case "framework":
			c.Framework = models.Framework(stringValue(v))
		case "title":
			c.Title = stringValue(v)
		case "heading":
			c.Heading = stringValue(v)
		case "level":
			c.Level = int(v.GetIntegerValue())
		case "parent_id":
			c.ParentID = stringValue(v)
		case "source_url":
			c.SourceURL = stringValue(v)
		case "content":
			c.Content = stringValue(v)
		default:
			if name, ok := strings.CutPrefix(k, "extra_"); ok {
				extra[name] = stringValue(v)
			}
		}
	}
	if len(extra) > 0 {
		c.Extra = extra
	}
	return c
}

func stringValue(v *qdrant.Value) string {
	if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
		return sv.StringValue
	}
	return fmt.Sprintf("%v", v.Kind)
}
