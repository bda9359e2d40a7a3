// Package crm is a read-only client for the amoCRM v4 REST API: pipeline catalogs,
// leads with their current stage, and the phones of their main contacts.
package crm

import (
	"time"

	"github.com/google/uuid"
)

// WonStatusID is the system "closed won" status present in every pipeline.
const WonStatusID int64 = 142

// LostStatusID is the system "closed lost" status.
const LostStatusID int64 = 143

// Connection is an account's CRM endpoint and access token, stored by the OAuth flow.
type Connection struct {
	AccountID   uuid.UUID
	BaseURL     string
	AccessToken string
}

// Stage is one status of one pipeline as reported by the CRM.
type Stage struct {
	PipelineID   int64
	PipelineName string
	StatusID     int64
	StatusName   string
	Color        string
	SortOrder    int
}

// LeadSnapshot is a CRM lead's current position plus its contact phones.
type LeadSnapshot struct {
	ID         int64
	PipelineID int64
	StatusID   int64
	Price      float64
	UpdatedAt  time.Time
	Phones     []string
}

type pipelinesResponse struct {
	Embedded struct {
		Pipelines []pipelineDTO `json:"pipelines"`
	} `json:"_embedded"`
}

type pipelineDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Sort     int    `json:"sort"`
	Embedded struct {
		Statuses []statusDTO `json:"statuses"`
	} `json:"_embedded"`
}

type statusDTO struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Sort  int    `json:"sort"`
	Color string `json:"color"`
}

type leadsResponse struct {
	Links struct {
		Next *struct {
			Href string `json:"href"`
		} `json:"next"`
	} `json:"_links"`
	Embedded struct {
		Leads []leadDTO `json:"leads"`
	} `json:"_embedded"`
}

type leadDTO struct {
	ID         int64   `json:"id"`
	PipelineID int64   `json:"pipeline_id"`
	StatusID   int64   `json:"status_id"`
	Price      float64 `json:"price"`
	UpdatedAt  int64   `json:"updated_at"`
	Embedded   struct {
		Contacts []struct {
			ID     int64 `json:"id"`
			IsMain bool  `json:"is_main"`
		} `json:"contacts"`
	} `json:"_embedded"`
}

type contactsResponse struct {
	Embedded struct {
		Contacts []contactDTO `json:"contacts"`
	} `json:"_embedded"`
}

type contactDTO struct {
	ID           int64 `json:"id"`
	CustomFields []struct {
		FieldCode string `json:"field_code"`
		Values    []struct {
			Value any `json:"value"`
		} `json:"values"`
	} `json:"custom_fields_values"`
}

func (c contactDTO) phones() []string {
	var out []string
	for _, field := range c.CustomFields {
		if field.FieldCode != "PHONE" {
			continue
		}
		for _, v := range field.Values {
			if s, ok := v.Value.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (l leadDTO) mainContactID() (int64, bool) {
	contacts := l.Embedded.Contacts
	for _, c := range contacts {
		if c.IsMain {
			return c.ID, true
		}
	}
	if len(contacts) > 0 {
		return contacts[0].ID, true
	}
	return 0, false
}
