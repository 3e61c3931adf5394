package kommo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tecbrilho/erika-relay/internal/leads"
	"github.com/tecbrilho/erika-relay/pkg/logging"
)

var tracer = otel.Tracer("erika.internal.kommo")

// ErrContactNotFound is returned when no contact matches a phone number.
var ErrContactNotFound = errors.New("kommo: contact not found")

const defaultContactName = "Cliente"

// FindContactByPhone returns the first contact matching phone.
func (c *Client) FindContactByPhone(ctx context.Context, phone string) (*Contact, error) {
	data, err := c.invoke(ctx, http.MethodGet, "/api/v4/contacts", url.Values{"query": {phone}}, nil)
	if err != nil {
		return nil, fmt.Errorf("kommo: search contact: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrContactNotFound
	}
	var resp contactsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("kommo: decode contacts: %w", err)
	}
	if len(resp.Embedded.Contacts) == 0 {
		return nil, ErrContactNotFound
	}
	contact := resp.Embedded.Contacts[0]
	return &contact, nil
}

// ContactLeadIDs lists the ids of leads linked to a contact.
func (c *Client) ContactLeadIDs(ctx context.Context, contactID int64) ([]int64, error) {
	path := "/api/v4/contacts/" + strconv.FormatInt(contactID, 10)
	data, err := c.invoke(ctx, http.MethodGet, path, url.Values{"with": {"leads"}}, nil)
	if err != nil {
		return nil, fmt.Errorf("kommo: load contact %d: %w", contactID, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var contact Contact
	if err := json.Unmarshal(data, &contact); err != nil {
		return nil, fmt.Errorf("kommo: decode contact: %w", err)
	}
	ids := make([]int64, 0, len(contact.Embedded.Leads))
	for _, l := range contact.Embedded.Leads {
		if l.ID > 0 {
			ids = append(ids, l.ID)
		}
	}
	return ids, nil
}

// CreateLeadWithContact creates a lead together with a new contact carrying phone.
func (c *Client) CreateLeadWithContact(ctx context.Context, leadName, contactName, phone string) (leads.Ref, error) {
	if strings.TrimSpace(contactName) == "" {
		contactName = defaultContactName
	}
	body := []complexLead{{
		Name: leadName,
		Embedded: complexLeadEmbedded{Contacts: []complexContact{{
			Name: contactName,
			CustomFieldsValues: []customField{{
				FieldCode: "PHONE",
				Values:    []customFieldValue{{Value: phone, EnumCode: "WORK"}},
			}},
		}}},
	}}
	data, err := c.invoke(ctx, http.MethodPost, "/api/v4/leads/complex", nil, body)
	if err != nil {
		return leads.Ref{}, fmt.Errorf("kommo: create lead with contact: %w", err)
	}
	var created []complexResult
	if err := json.Unmarshal(data, &created); err != nil {
		return leads.Ref{}, fmt.Errorf("kommo: decode created lead: %w", err)
	}
	if len(created) == 0 || created[0].ID == 0 {
		return leads.Ref{}, errors.New("kommo: create lead with contact returned no id")
	}
	return leads.Ref{LeadID: created[0].ID, ContactID: created[0].ContactID, Created: true}, nil
}

// CreateLeadForContact creates a lead linked to an existing contact.
func (c *Client) CreateLeadForContact(ctx context.Context, leadName string, contactID int64) (int64, error) {
	body := []newLead{{
		Name:     leadName,
		Embedded: &newLeadEmbedded{Contacts: []entityRef{{ID: contactID}}},
	}}
	data, err := c.invoke(ctx, http.MethodPost, "/api/v4/leads", nil, body)
	if err != nil {
		return 0, fmt.Errorf("kommo: create lead for contact %d: %w", contactID, err)
	}
	var resp leadsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("kommo: decode created lead: %w", err)
	}
	if len(resp.Embedded.Leads) == 0 || resp.Embedded.Leads[0].ID == 0 {
		return 0, errors.New("kommo: create lead returned no id")
	}
	return resp.Embedded.Leads[0].ID, nil
}

// UpdateLeadStatus moves a lead to a pipeline status.
func (c *Client) UpdateLeadStatus(ctx context.Context, leadID, statusID int64) error {
	body := []leadStatusPatch{{ID: leadID, StatusID: statusID}}
	if _, err := c.invoke(ctx, http.MethodPatch, "/api/v4/leads", nil, body); err != nil {
		return fmt.Errorf("kommo: update lead %d status: %w", leadID, err)
	}
	return nil
}

// ResolveOrCreate implements leads.Resolver against the Kommo CRM.
func (c *Client) ResolveOrCreate(ctx context.Context, req leads.ResolveRequest) (leads.Ref, error) {
	if err := req.Validate(); err != nil {
		return leads.Ref{}, err
	}
	ctx, span := tracer.Start(ctx, "kommo.resolve_lead")
	defer span.End()

	leadName := strings.TrimSpace(req.Source)
	if leadName == "" {
		leadName = "Lead " + req.Phone
	}

	contact, err := c.FindContactByPhone(ctx, req.Phone)
	switch {
	case errors.Is(err, ErrContactNotFound):
		if !req.AllowCreate {
			return leads.Ref{}, nil
		}
		ref, err := c.CreateLeadWithContact(ctx, leadName, req.Name, req.Phone)
		if err != nil {
			span.RecordError(err)
			return leads.Ref{}, err
		}
		span.SetAttributes(attribute.Int64("kommo.lead_id", ref.LeadID), attribute.Bool("kommo.contact_created", true))
		c.logger.Info("kommo lead created with new contact", "lead_id", ref.LeadID, "phone", logging.MaskPhone(req.Phone))
		return ref, nil
	case err != nil:
		span.RecordError(err)
		return leads.Ref{}, err
	}

	ids, err := c.ContactLeadIDs(ctx, contact.ID)
	if err != nil {
		span.RecordError(err)
		return leads.Ref{ContactID: contact.ID}, err
	}
	if latest := mostRecent(ids); latest != 0 {
		span.SetAttributes(attribute.Int64("kommo.lead_id", latest))
		return leads.Ref{LeadID: latest, ContactID: contact.ID}, nil
	}
	if !req.AllowCreate {
		return leads.Ref{ContactID: contact.ID}, nil
	}

	leadID, err := c.CreateLeadForContact(ctx, leadName, contact.ID)
	if err != nil {
		span.RecordError(err)
		return leads.Ref{ContactID: contact.ID}, err
	}
	span.SetAttributes(attribute.Int64("kommo.lead_id", leadID))
	c.logger.Info("kommo lead created for existing contact", "lead_id", leadID, "contact_id", contact.ID)
	return leads.Ref{LeadID: leadID, ContactID: contact.ID, Created: true}, nil
}

// UpdateLeadStage applies an assistant stage label. An unmapped label is a
// no-op and reports false.
func (c *Client) UpdateLeadStage(ctx context.Context, leadID int64, label string) (bool, error) {
	if leadID == 0 || strings.TrimSpace(label) == "" {
		return false, nil
	}
	statusID, ok := c.stages.Lookup(label)
	if !ok {
		c.logger.Info("stage label not mapped, skipping", "stage", label, "lead_id", leadID)
		return false, nil
	}
	if err := c.UpdateLeadStatus(ctx, leadID, statusID); err != nil {
		return false, err
	}
	return true, nil
}

// AddLeadNote attaches a common note to a lead.
func (c *Client) AddLeadNote(ctx context.Context, leadID int64, text string) error {
	if leadID == 0 || strings.TrimSpace(text) == "" {
		return nil
	}
	body := []leadNote{{
		EntityID: leadID,
		NoteType: "common",
		Params:   noteParams{Text: text},
	}}
	if _, err := c.invoke(ctx, http.MethodPost, "/api/v4/leads/notes", nil, body); err != nil {
		return fmt.Errorf("kommo: add note to lead %d: %w", leadID, err)
	}
	return nil
}

func mostRecent(ids []int64) int64 {
	var latest int64
	for _, id := range ids {
		if id > latest {
			latest = id
		}
	}
	return latest
}
