package pagination

import (
	"github.com/pcastr/monitor-politico/pkg/config"
)

// Strategy is the pagination convention of an endpoint. It is one of
// Links, PageCounter or Single.
type Strategy interface {
	// Name returns the configuration name of the convention.
	Name() string
	isStrategy()
}

// Links follows rel=next links.
type Links struct{}

// PageCounter advances a page number with a fixed page size.
type PageCounter struct {
	PageParam string
	SizeParam string
	PageSize  int
	StartPage int
}

// Single issues exactly one request.
type Single struct{}

func (Links) Name() string       { return config.PaginationLinks }
func (PageCounter) Name() string { return config.PaginationPage }
func (Single) Name() string      { return config.PaginationNone }

func (Links) isStrategy()       {}
func (PageCounter) isStrategy() {}
func (Single) isStrategy()      {}

// StrategyFor selects the convention from the endpoint configuration. An
// endpoint without a pagination block follows links.
func StrategyFor(ep config.Endpoint) Strategy {
	p := ep.Pagination
	if p == nil {
		return Links{}
	}

	switch p.Type {
	case config.PaginationNone:
		return Single{}
	case config.PaginationPage:
		pc := PageCounter{
			PageParam: p.PageParam,
			SizeParam: p.SizeParam,
			PageSize:  p.PageSize,
			StartPage: p.StartPage,
		}
		if pc.PageParam == "" {
			pc.PageParam = config.DefaultPageParam
		}
		if pc.SizeParam == "" {
			pc.SizeParam = config.DefaultSizeParam
		}
		if pc.PageSize <= 0 {
			pc.PageSize = config.DefaultPageSize
		}
		if pc.StartPage <= 0 {
			pc.StartPage = config.DefaultStartPage
		}
		return pc
	default:
		return Links{}
	}
}
