package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quantbench/quantflow/pkg/datasource"
	"github.com/quantbench/quantflow/pkg/flow"
	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/otelhelper"
	"github.com/quantbench/quantflow/pkg/persistence"
	"github.com/quantbench/quantflow/pkg/protocol"
	"github.com/quantbench/quantflow/pkg/registry"
)

var tracer = otel.Tracer("quantflow/services")

// FlowService implements flow management and execution on top of the
// persistence layer, the node registry and the data source catalog.
type FlowService struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *registry.Registry
	catalog     *datasource.Catalog
	httpClient  *http.Client
	validate    *validator.Validate
}

// NewFlowService creates a new flow service.
func NewFlowService(logger *slog.Logger, p persistence.Persistence, reg *registry.Registry, catalog *datasource.Catalog) *FlowService {
	return &FlowService{
		logger:      logger,
		persistence: p,
		registry:    reg,
		catalog:     catalog,
		httpClient:  http.DefaultClient,
		validate:    validator.New(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (s *FlowService) HealthCheck(ctx context.Context) (string, bool) {
	if s.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := s.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// SaveFlow validates and persists the flow definition. A missing flow ID is
// assigned. Saving atomically promotes every draft node config of the flow
// to published.
func (s *FlowService) SaveFlow(ctx context.Context, f *models.Flow) (*models.Flow, error) {
	if f == nil {
		return nil, ErrFlowNil
	}

	if f.FlowID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate flow id: %w", err)
		}

		f.FlowID = id.String()
	}

	if f.FlowType == 0 {
		f.FlowType = models.FlowTypeFactor
	}

	if err := s.validate.Struct(f); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, err)
	}

	err := s.persistence.SaveFlow(ctx, f)
	if err != nil {
		return nil, err
	}

	return f, nil
}

// GetFlowInfo returns the flow definition by ID.
func (s *FlowService) GetFlowInfo(ctx context.Context, flowID string) (*models.Flow, error) {
	return s.persistence.FlowByID(ctx, flowID)
}

// ListFlows returns all flows owned by a user.
func (s *FlowService) ListFlows(ctx context.Context, username string) ([]*models.Flow, error) {
	if username == "" {
		return nil, ErrEmptyUsername
	}

	return s.persistence.FlowsByUser(ctx, username)
}

// DeleteFlow removes the flow and all of its node configs.
func (s *FlowService) DeleteFlow(ctx context.Context, flowID string) error {
	return s.persistence.DeleteFlow(ctx, flowID)
}

// SaveNode stores a node configuration as a draft. The draft becomes
// published the next time the flow is saved.
func (s *FlowService) SaveNode(ctx context.Context, cfg *models.NodeConfig) (*models.NodeConfig, error) {
	if err := s.validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, err)
	}

	if _, ok := s.registry.Factory(cfg.NodeType); !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrUnknownNodeKind, cfg.NodeType)
	}

	err := s.persistence.SaveNodeDraft(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// GetNodeInfo returns the latest configuration of a node, draft included.
// The draft always carries the greatest version, so latest wins.
func (s *FlowService) GetNodeInfo(ctx context.Context, flowID, nodeID string) (*models.NodeConfig, error) {
	return s.persistence.LatestNodeConfig(ctx, flowID, nodeID)
}

// DiscardDrafts deletes every unsaved draft config of the flow.
func (s *FlowService) DiscardDrafts(ctx context.Context, flowID string) error {
	return s.persistence.DeleteNodeDrafts(ctx, flowID)
}

// RunFlow executes the flow on behalf of user. Each node runs with its
// latest published configuration when one exists, falling back to the
// config embedded in the flow's node list. Progress messages go to infoCB;
// a nil callback discards them.
func (s *FlowService) RunFlow(ctx context.Context, flowID, user string, infoCB protocol.ProgressFunc) (map[string]any, error) {
	if infoCB == nil {
		infoCB = protocol.NopProgress
	}

	f, err := s.persistence.FlowByID(ctx, flowID)
	if err != nil {
		return nil, err
	}

	if user == "" {
		user = f.Username
	}

	ctx, span := otelhelper.StartSpan(ctx, tracer, "flow.run",
		attribute.String(otelhelper.FlowIDKey, flowID),
		attribute.String(otelhelper.FlowNameKey, f.FlowName),
		attribute.String(otelhelper.UserKey, user),
	)
	defer span.End()

	effective, err := s.effectiveFlow(ctx, f)
	if err != nil {
		infoCB(err.Error(), protocol.SeverityError)

		return nil, err
	}

	deps := protocol.Dependencies{
		Logger:     s.logger.With("flow_id", flowID),
		User:       user,
		Sources:    s.catalog,
		Sink:       s.catalog,
		TableMeta:  s.persistence,
		HTTPClient: s.httpClient,
	}

	graph, err := flow.Build(ctx, s.registry, effective, deps)
	if err != nil {
		infoCB(err.Error(), protocol.SeverityError)

		return nil, err
	}

	outputs, err := graph.Execute(ctx, infoCB)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.FlowIDKey, flowID))

		return nil, err
	}

	infoCB(fmt.Sprintf("flow %s finished", f.FlowName), protocol.SeveritySuccess)

	return outputs, nil
}

// effectiveFlow overlays each node's latest published config onto the
// persisted node list.
func (s *FlowService) effectiveFlow(ctx context.Context, f *models.Flow) (*models.Flow, error) {
	effective := *f
	effective.NodeList = make([]models.NodeSpec, len(f.NodeList))
	copy(effective.NodeList, f.NodeList)

	for i, spec := range effective.NodeList {
		cfg, err := s.persistence.LatestPublishedNodeConfig(ctx, f.FlowID, spec.ID)
		if err != nil {
			if persistence.IsNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load config for node %s: %w", spec.ID, err)
		}

		effective.NodeList[i].NodeType = cfg.NodeType
		effective.NodeList[i].Config = cfg.NodeCfg
	}

	return &effective, nil
}
