package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/flicky/storefront/internal/dto"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

// ErrProductNotFound is the model sentinel, so typed placement errors and
// plain lookups match the same errors.Is target.
var ErrProductNotFound = model.ErrProductNotFound

// ErrStockChanged means a checkout moved stock between the read and the
// write of an edit that sets it; the caller should re-read and retry.
var ErrStockChanged = model.ErrStockChanged

type ProductService struct {
	productRepo   repository.ProductRepository
	inventoryRepo repository.InventoryRepository
	cache         *ProductCache
}

func NewProductService(productRepo repository.ProductRepository, inventoryRepo repository.InventoryRepository, cache *ProductCache) *ProductService {
	return &ProductService{productRepo: productRepo, inventoryRepo: inventoryRepo, cache: cache}
}

func (s *ProductService) Create(ctx context.Context, req dto.CreateProductRequest) (*dto.ProductResponse, error) {
	product := &model.Product{
		Name:          req.Name,
		Description:   req.Description,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
		Images:        req.Images,
		Sizes:         req.Sizes,
		Category:      req.Category,
	}
	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	resp := toProductResponse(product)
	return &resp, nil
}

func (s *ProductService) GetByID(ctx context.Context, id uuid.UUID) (*dto.ProductResponse, error) {
	if cached, ok := s.cache.Get(ctx, id); ok {
		return cached, nil
	}

	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}

	resp := toProductResponse(product)
	s.cache.Set(ctx, &resp)
	return &resp, nil
}

func (s *ProductService) List(ctx context.Context, req dto.ListProductsRequest) (*dto.ProductListResponse, error) {
	products, total, err := s.productRepo.List(ctx, repository.ProductFilter{
		Limit:    req.Limit,
		Offset:   (req.Page - 1) * req.Limit,
		Search:   req.Search,
		Category: req.Category,
		Sort:     req.Sort,
		Order:    req.Order,
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	items := make([]dto.ProductResponse, 0, len(products))
	for i := range products {
		items = append(items, toProductResponse(&products[i]))
	}

	return &dto.ProductListResponse{Products: items, Total: total, Page: req.Page, Limit: req.Limit}, nil
}

func (s *ProductService) Update(ctx context.Context, id uuid.UUID, req dto.UpdateProductRequest) (*dto.ProductResponse, error) {
	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}

	if req.Name != nil {
		product.Name = *req.Name
	}
	if req.Description != nil {
		product.Description = *req.Description
	}
	if req.Price != nil {
		product.Price = *req.Price
	}
	if req.Images != nil {
		product.Images = req.Images
	}
	if req.Sizes != nil {
		product.Sizes = req.Sizes
	}
	if req.Category != nil {
		product.Category = *req.Category
	}

	// Stock is only written when the request sets it, and then only over the
	// value read above, so concurrent checkouts are never undone.
	var stock *repository.StockChange
	if req.StockQuantity != nil {
		stock = &repository.StockChange{From: product.StockQuantity, To: *req.StockQuantity}
	}
	if err := s.productRepo.Update(ctx, product, stock); err != nil {
		return nil, fmt.Errorf("update product: %w", err)
	}

	s.cache.Invalidate(ctx, id)
	resp := toProductResponse(product)
	return &resp, nil
}

func (s *ProductService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.productRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	s.cache.Invalidate(ctx, id)
	return nil
}

// Ledger returns the product's stock history with the quantity obtained by
// replaying it from zero next to the stored quantity.
func (s *ProductService) Ledger(ctx context.Context, id uuid.UUID) (*dto.InventoryLedgerResponse, error) {
	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}

	events, err := s.inventoryRepo.ListByProduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list inventory events: %w", err)
	}

	resp := &dto.InventoryLedgerResponse{
		ProductID:     id,
		StockQuantity: product.StockQuantity,
		Replayed:      model.ReplayStock(0, events),
		Events:        make([]dto.InventoryEventResponse, 0, len(events)),
	}
	for _, e := range events {
		resp.Events = append(resp.Events, dto.InventoryEventResponse{
			ID:               e.ID,
			Delta:            e.Delta,
			PreviousQuantity: e.PreviousQuantity,
			NewQuantity:      e.NewQuantity,
			Reason:           e.Reason,
			ReferenceType:    e.ReferenceType,
			ReferenceID:      e.ReferenceID,
			Context:          e.Context,
			CreatedAt:        e.CreatedAt,
		})
	}
	return resp, nil
}

func toProductResponse(p *model.Product) dto.ProductResponse {
	return dto.ProductResponse{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		InStock:       p.InStock,
		Images:        nonNil(p.Images),
		Sizes:         nonNil(p.Sizes),
		Category:      p.Category,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
