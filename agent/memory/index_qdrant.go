package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const metaPrefix = "meta_"

// QdrantIndex stores records as points in a qdrant collection over gRPC.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	apiKey      string
}

func OpenQdrantIndex(ctx context.Context, addr, apiKey, collection string, dims int) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}

	q := &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		apiKey:      apiKey,
	}
	if err := q.ensureCollection(ctx, uint64(dims)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

func (q *QdrantIndex) withAuth(ctx context.Context) context.Context {
	if q.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", q.apiKey)
}

func (q *QdrantIndex) ensureCollection(ctx context.Context, dims uint64) error {
	ctx = q.withAuth(ctx)
	exists, err := q.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: q.collection})
	if err != nil {
		return fmt.Errorf("check qdrant collection: %w", err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dims,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create qdrant collection: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Insert(ctx context.Context, rec Record, vector []float32) error {
	payload := map[string]*pb.Value{
		"text":       stringValue(rec.Text),
		"created_at": {Kind: &pb.Value_IntegerValue{IntegerValue: rec.CreatedAt.UnixMilli()}},
	}
	for k, v := range rec.Metadata {
		payload[metaPrefix+k] = stringValue(v)
	}

	wait := true
	_, err := q.points.Upsert(q.withAuth(ctx), &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: rec.ID}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}},
			},
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("upsert qdrant point: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	resp, err := q.points.Search(q.withAuth(ctx), &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search qdrant points: %w", err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		hits = append(hits, Hit{Record: recordFromPayload(p.GetId(), p.GetPayload()), Score: float64(p.GetScore())})
	}
	return hits, nil
}

func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func recordFromPayload(id *pb.PointId, payload map[string]*pb.Value) Record {
	rec := Record{Metadata: map[string]string{}}
	if uid := id.GetUuid(); uid != "" {
		rec.ID = uid
	} else {
		rec.ID = fmt.Sprintf("%d", id.GetNum())
	}
	for k, v := range payload {
		switch {
		case k == "text":
			rec.Text = v.GetStringValue()
		case k == "created_at":
			rec.CreatedAt = time.UnixMilli(v.GetIntegerValue()).UTC()
		case strings.HasPrefix(k, metaPrefix):
			rec.Metadata[strings.TrimPrefix(k, metaPrefix)] = v.GetStringValue()
		}
	}
	return rec
}
