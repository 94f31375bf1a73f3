package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/knoguchi/learnpath/internal/filter"
)

const (
	// DefaultDimension is the vector size of the catalog collection.
	DefaultDimension = 768

	defaultGRPCPort = 6334
)

// QdrantConfig holds connection settings for the Qdrant index.
type QdrantConfig struct {
	// URL is "host:port" or "http(s)://host:port" of the Qdrant gRPC endpoint.
	URL string

	// APIKey is sent with every request when set.
	APIKey string

	// Collection is the catalog collection name.
	Collection string

	// Dimension is the vector size used when the collection is created.
	Dimension int

	Logger *slog.Logger
}

// QdrantStore implements Index and Provisioner using Qdrant.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *slog.Logger
}

// NewQdrantStore creates a new Qdrant client for the catalog collection.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}

	host, port, useTLS, err := parseQdrantURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = DefaultDimension
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithChainUnaryInterceptor(loggingInterceptor(logger)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantStore{
		client:     client,
		collection: cfg.Collection,
		dimension:  dimension,
		logger:     logger,
	}, nil
}

// parseQdrantURL accepts "host", "host:port" or a URL with an http/https scheme.
func parseQdrantURL(raw string) (host string, port int, useTLS bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0, false, fmt.Errorf("qdrant url is required")
	}

	hostPort := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid qdrant url: %w", err)
		}
		switch u.Scheme {
		case "http", "grpc":
		case "https", "grpcs":
			useTLS = true
		default:
			return "", 0, false, fmt.Errorf("unsupported qdrant url scheme %q", u.Scheme)
		}
		hostPort = u.Host
	}

	h, portStr, splitErr := net.SplitHostPort(hostPort)
	if splitErr != nil {
		// No port specified, assume default
		return hostPort, defaultGRPCPort, useTLS, nil
	}

	p, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid port in qdrant url: %w", err)
	}
	return h, p, useTLS, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Ping checks that the Qdrant server answers health checks.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return classifyError("health check", err)
	}
	return nil
}

// EnsureCollection creates the catalog collection (cosine distance) when it
// does not exist, then makes sure every payload index used by filters exists.
// Indexes are checked on every start so an interrupted provisioning run heals.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return classifyError("check collection existence", err)
	}

	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return classifyError("create collection", err)
		}
		s.logger.Info("created qdrant collection",
			"collection", s.collection,
			"dimension", s.dimension,
			"distance", "cosine",
		)
	}

	return ensurePayloadIndexes(ctx, func(ctx context.Context, field string, fieldType qdrant.FieldType) error {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.PtrOf(fieldType),
		})
		return err
	})
}

type createFieldIndexFunc func(ctx context.Context, field string, fieldType qdrant.FieldType) error

// ensurePayloadIndexes creates each filter payload index, treating an
// already existing index as success.
func ensurePayloadIndexes(ctx context.Context, create createFieldIndexFunc) error {
	for _, field := range payloadIndexFields {
		err := create(ctx, field, payloadIndexes[field])
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return classifyError("create payload index "+field, err)
		}
	}
	return nil
}

var payloadIndexFields = []string{PayloadLevel, PayloadLicense, PayloadDurationMin, PayloadMediaType}

var payloadIndexes = map[string]qdrant.FieldType{
	PayloadLevel:       qdrant.FieldType_FieldTypeInteger,
	PayloadLicense:     qdrant.FieldType_FieldTypeKeyword,
	PayloadDurationMin: qdrant.FieldType_FieldTypeInteger,
	PayloadMediaType:   qdrant.FieldType_FieldTypeKeyword,
}

// Search performs filtered similarity search.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, pred *filter.Predicate, limit int) ([]Candidate, error) {
	limit = NormalizeLimit(limit)

	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         toQdrantFilter(pred),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, classifyError("search", err)
	}

	candidates := make([]Candidate, 0, len(response))
	for _, point := range response {
		candidates = append(candidates, Candidate{
			ID:      pointID(point.GetId()),
			Payload: payloadToMap(point.GetPayload()),
			Score:   point.GetScore(),
		})
	}

	return candidates, nil
}

// toQdrantFilter converts a compiled predicate into a must-only Qdrant filter.
func toQdrantFilter(pred *filter.Predicate) *qdrant.Filter {
	if pred == nil || len(pred.Clauses) == 0 {
		return nil
	}

	must := make([]*qdrant.Condition, 0, len(pred.Clauses))
	for _, c := range pred.Clauses {
		switch c.Op {
		case filter.OpLTE:
			must = append(must, qdrant.NewRange(c.Field, &qdrant.Range{
				Lte: qdrant.PtrOf(float64(c.Bound)),
			}))
		case filter.OpIn:
			must = append(must, qdrant.NewMatchKeywords(c.Field, c.Values...))
		}
	}
	return &qdrant.Filter{Must: must}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		list := make([]any, len(values))
		for i, item := range values {
			list[i] = valueToAny(item)
		}
		return list
	case *qdrant.Value_StructValue:
		return payloadToMap(kind.StructValue.GetFields())
	default:
		return nil
	}
}

// classifyError maps a Qdrant/gRPC error onto ErrIndexUnavailable or ErrQueryFailed.
func classifyError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, ErrIndexUnavailable, err)
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
			return fmt.Errorf("%s: %w: %w", op, ErrIndexUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrQueryFailed, err)
}

// loggingInterceptor logs every Qdrant RPC at debug level.
func loggingInterceptor(logger *slog.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		logger.Debug("qdrant rpc",
			"method", method,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return err
	}
}

// Ensure QdrantStore implements Index and Provisioner
var (
	_ Index       = (*QdrantStore)(nil)
	_ Provisioner = (*QdrantStore)(nil)
)
