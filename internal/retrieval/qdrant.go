package retrieval

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

var _ VectorStore = (*QdrantStore)(nil)

// QdrantConfig holds Qdrant connection configuration.
type QdrantConfig struct {
	// URL is the gRPC address, e.g. "http://localhost:6334". A missing scheme
	// means plain http.
	URL        string
	Collection string
	APIKey     string
}

// QdrantStore implements VectorStore against a Qdrant collection using
// cosine distance. Payload keys: content, answer, source, focus_area, created_at.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}

	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing qdrant url: %w", err)
	}

	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
		port = p
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}
	return &QdrantStore{client: client, collection: cfg.Collection}, nil
}

func (s *QdrantStore) Prepare(ctx context.Context, dim int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.collection, err)
	}
	return nil
}

func (s *QdrantStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		payload := map[string]any{
			"content":    r.Content,
			"created_at": createdAt.Format(time.RFC3339),
		}
		// Missing metadata stays absent so Search can tell it apart.
		if r.Answer != "" {
			payload["answer"] = r.Answer
		}
		if r.Source != "" {
			payload["source"] = r.Source
		}
		if r.FocusArea != "" {
			payload["focus_area"] = r.FocusArea
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(r.ID)),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Search converts Qdrant's cosine similarity score into a distance.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK < 1 {
		topK = 1
	}
	limit := uint64(topK)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	results := make([]ScoredRecord, 0, len(points))
	for _, point := range points {
		r := ScoredRecord{Distance: 1 - float64(point.Score)}
		if r.Distance < 0 {
			r.Distance = 0
		}
		if point.Id != nil {
			if id := point.Id.GetUuid(); id != "" {
				r.ID = id
			} else {
				r.ID = strconv.FormatUint(point.Id.GetNum(), 10)
			}
		}
		for k, v := range point.Payload {
			switch k {
			case "content":
				r.Content = v.GetStringValue()
			case "answer":
				r.Answer = v.GetStringValue()
			case "source":
				r.Source = v.GetStringValue()
			case "focus_area":
				r.FocusArea = v.GetStringValue()
			case "created_at":
				if t, err := time.Parse(time.RFC3339, v.GetStringValue()); err == nil {
					r.CreatedAt = t
				}
			}
		}
		results = append(results, r)
	}
	sortByDistance(results)
	return results, nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(n), nil
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}
