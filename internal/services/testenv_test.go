package services

import (
	"context"
	"testing"
	"time"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/infrastructure/config"
	"github.com/asakaida/puroteusu/internal/repositories"
)

// testEnv wires the services over the in-memory mock repositories.
type testEnv struct {
	store      *memStore
	repos      *repositories.Repositories
	tx         *mockTxManager
	publisher  *mockPublisher
	registry   *RegistryService
	lifecycle  *LifecycleService
	query      *QueryService
	entityRepo *mockEntityRepo
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		SequenceRetryAttempts:    4,
		SequenceRetryBaseBackoff: time.Millisecond,
		StorageTimeout:           5 * time.Second,
		MaxPageSize:              500,
		MaxExpandDepth:           5,
	}
}

func newTestEnv() *testEnv {
	store := newMemStore()
	repos := store.repos()
	tx := &mockTxManager{store: store}
	publisher := &mockPublisher{}

	registry := NewRegistryService(tx, repos, nil, 0, nil, nil)
	cfg := testEngineConfig()
	lifecycle := NewLifecycleService(registry, tx, repos, publisher, nil, cfg, nil)
	query := NewQueryService(registry, repos, cfg.MaxPageSize, cfg.MaxExpandDepth)

	return &testEnv{
		store:      store,
		repos:      repos,
		tx:         tx,
		publisher:  publisher,
		registry:   registry,
		lifecycle:  lifecycle,
		query:      query,
		entityRepo: repos.Entities.(*mockEntityRepo),
	}
}

// defineCustomerType registers the Customer type of the product docs:
// name (required), email (required, unique), customerId (auto-increment
// "CUST-" + 4 digits).
func defineCustomerType(t *testing.T, env *testEnv) *entities.EntityType {
	t.Helper()
	ctx := context.Background()

	customer := &entities.EntityType{Name: "Customer", DisplayName: "Customer"}
	if err := env.registry.DefineEntityType(ctx, customer); err != nil {
		t.Fatalf("failed to define entity type: %v", err)
	}

	attrs := []*entities.AttributeDefinition{
		{
			EntityTypeID: customer.ID,
			Name:         "name",
			DataType:     entities.DataTypeText,
			Cardinality:  entities.CardinalitySingle,
			Scope:        entities.ScopeInstance,
			IsRequired:   true,
			SortOrder:    1,
		},
		{
			EntityTypeID: customer.ID,
			Name:         "email",
			DataType:     entities.DataTypeText,
			Cardinality:  entities.CardinalitySingle,
			Scope:        entities.ScopeInstance,
			IsRequired:   true,
			IsUnique:     true,
			SortOrder:    2,
		},
		{
			EntityTypeID:         customer.ID,
			Name:                 "customerId",
			DataType:             entities.DataTypeText,
			Cardinality:          entities.CardinalitySingle,
			Scope:                entities.ScopeInstance,
			IsAutoIncrement:      true,
			AutoIncrementPrefix:  "CUST-",
			AutoIncrementPadding: 4,
			AutoIncrementStart:   1,
			SortOrder:            3,
		},
	}
	for _, attr := range attrs {
		if err := env.registry.DefineAttribute(ctx, attr); err != nil {
			t.Fatalf("failed to define attribute %s: %v", attr.Name, err)
		}
	}

	loaded, err := env.registry.GetEntityType(ctx, "Customer")
	if err != nil {
		t.Fatalf("failed to load entity type: %v", err)
	}
	return loaded
}

func textValues(s string) []entities.TypedValue {
	return []entities.TypedValue{entities.NewTextValue(s)}
}
