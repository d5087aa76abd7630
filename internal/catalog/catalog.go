package catalog

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/smmkit/panel-api/internal/provider"
	"github.com/smmkit/panel-api/internal/types"
	"github.com/smmkit/panel-api/pkg/response"
	"gorm.io/gorm"
)

var ErrProviderNotFound = errors.New("provider not found")

// ProviderCatalogAPI is the slice of the provider client the catalog
// back office uses.
type ProviderCatalogAPI interface {
	FetchBalance(ctx context.Context, p *types.Provider) (*provider.Balance, error)
	FetchServices(ctx context.Context, p *types.Provider) ([]provider.CatalogService, error)
}

// Service manages upstream provider accounts and the locally priced catalog
// built from their service lists.
type Service struct {
	db  *Database
	api ProviderCatalogAPI
}

func NewService(gormDB *gorm.DB, api ProviderCatalogAPI) *Service {
	return &Service{
		db:  NewDatabase(gormDB),
		api: api,
	}
}

// RegisterProvider creates a new upstream provider account.
func (s *Service) RegisterProvider(name, apiURL, apiKey string, active bool) (*types.Provider, error) {
	p := &types.Provider{
		ProviderID: uuid.New().String(),
		Name:       name,
		APIURL:     apiURL,
		APIKey:     apiKey,
		Active:     active,
	}
	if err := s.db.CreateProvider(p); err != nil {
		return nil, err
	}

	log.Info().Str("provider_id", p.ProviderID).Str("name", name).Msg("provider registered")
	return p, nil
}

// RefreshBalance fetches the provider's balance and caches it locally for
// the admin dashboard.
func (s *Service) RefreshBalance(ctx context.Context, providerID string) (*types.Provider, error) {
	p, err := s.db.GetProvider(providerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProviderNotFound
	}

	balance, err := s.api.FetchBalance(ctx, p)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p.CachedBalance = balance.Balance
	p.BalanceCurrency = balance.Currency
	p.BalanceSyncedAt = &now
	if err := s.db.UpdateProvider(p); err != nil {
		return nil, err
	}

	return p, nil
}

// ImportServices pulls the provider's catalog and upserts local services
// bound to it, applying the given markup to the provider's rate. Imported
// services start inactive so pricing can be reviewed before they are sold.
// Returns the number of imported entries.
func (s *Service) ImportServices(ctx context.Context, providerID string, markupPercent float64) (int, error) {
	p, err := s.db.GetProvider(providerID)
	if err != nil {
		return 0, err
	}
	if p == nil {
		return 0, ErrProviderNotFound
	}

	entries, err := s.api.FetchServices(ctx, p)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, entry := range entries {
		rate := math.Round(entry.Rate*(1+markupPercent/100)*100) / 100

		existing, err := s.db.GetServiceByProviderBinding(p.ProviderID, entry.ServiceID)
		if err != nil {
			log.Error().Err(err).Str("provider_service_id", entry.ServiceID).Msg("catalog lookup failed, skipping entry")
			continue
		}

		if existing != nil {
			existing.Name = entry.Name
			existing.Category = entry.Category
			existing.Rate = rate
			existing.MinQuantity = entry.Min
			existing.MaxQuantity = entry.Max
			if err := s.db.UpdateService(existing); err != nil {
				log.Error().Err(err).Str("service_id", existing.ServiceID).Msg("catalog update failed, skipping entry")
				continue
			}
		} else {
			providerServiceID := entry.ServiceID
			svc := &types.Service{
				ServiceID:         uuid.New().String(),
				Name:              entry.Name,
				Category:          entry.Category,
				Rate:              rate,
				MinQuantity:       entry.Min,
				MaxQuantity:       entry.Max,
				Active:            false,
				ProviderID:        &p.ProviderID,
				ProviderServiceID: &providerServiceID,
			}
			if err := s.db.CreateService(svc); err != nil {
				log.Error().Err(err).Str("provider_service_id", entry.ServiceID).Msg("catalog insert failed, skipping entry")
				continue
			}
		}
		imported++
	}

	log.Info().
		Str("provider_id", p.ProviderID).
		Int("imported", imported).
		Int("fetched", len(entries)).
		Msg("provider catalog imported")

	return imported, nil
}

// ListActiveServices returns the sellable catalog.
func (s *Service) ListActiveServices() ([]types.Service, error) {
	return s.db.ListActiveServices()
}

// GinHandlers contains HTTP handlers for catalog and provider endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// ListServicesHandler handles GET requests for the public catalog.
func (h *GinHandlers) ListServicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		services, err := h.service.ListActiveServices()
		response.Handle(c, services, err)
	}
}

// CreateProviderHandler handles POST requests to register a provider.
func (h *GinHandlers) CreateProviderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.CreateProviderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		p, err := h.service.RegisterProvider(req.Name, req.APIURL, req.APIKey, req.Active)
		response.Handle(c, p, err)
	}
}

// ListProvidersHandler handles GET requests for registered providers.
func (h *GinHandlers) ListProvidersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		providers, err := h.service.db.ListProviders()
		response.Handle(c, providers, err)
	}
}

// RefreshBalanceHandler handles POST requests to refresh a provider balance.
func (h *GinHandlers) RefreshBalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		providerID := c.Param("provider_id")

		p, err := h.service.RefreshBalance(c.Request.Context(), providerID)
		switch {
		case err == nil:
			response.Success(c, p)
		case errors.Is(err, ErrProviderNotFound):
			response.NotFound(c, err.Error())
		default:
			response.InternalError(c, "Failed to refresh provider balance")
		}
	}
}

// ImportServicesHandler handles POST requests to import a provider catalog.
func (h *GinHandlers) ImportServicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		providerID := c.Param("provider_id")

		var req types.ImportServicesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		imported, err := h.service.ImportServices(c.Request.Context(), providerID, req.MarkupPercent)
		switch {
		case err == nil:
			response.Success(c, gin.H{"imported": imported})
		case errors.Is(err, ErrProviderNotFound):
			response.NotFound(c, err.Error())
		default:
			response.InternalError(c, "Failed to import provider catalog")
		}
	}
}
