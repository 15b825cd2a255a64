package direct

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/smartdirect/direct/internal/domain/catalog"
	"github.com/smartdirect/direct/internal/domain/records"
	"github.com/smartdirect/direct/internal/platform/document"
	"github.com/smartdirect/direct/internal/platform/notification"
	"github.com/smartdirect/direct/internal/platform/rdf"
)

// Data categories an app manifest may list under "apis".
const (
	APIProblems    = "problems"
	APIMedications = "medications"
	APIVitalSigns  = "vital_signs"
)

// Accounts are the two direct mailboxes the service sends from. Messages
// go out from Primary; app shares make a first hop from Alternate to
// Primary.
type Accounts struct {
	Primary       notification.SMTPAccount
	Alternate     notification.SMTPAccount
	SubjectPrefix string
}

// MessageRequest is a free-text message with a PDF rendering attached.
type MessageRequest struct {
	Recipient string
	Subject   string
	Message   string
}

// AppsRequest shares an anonymized patient record and app manifests.
type AppsRequest struct {
	Sender    string
	Recipient string
	Subject   string
	Message   string
	AppIDs    []string
}

// Manifest is the manifest.json attachment of an app share.
type Manifest struct {
	From string            `json:"from"`
	To   string            `json:"to"`
	Apps []json.RawMessage `json:"apps"`
}

type Service struct {
	accounts Accounts
	catalog  *catalog.Catalog
	sender   notification.EmailSender
	logger   zerolog.Logger
}

func NewService(accounts Accounts, cat *catalog.Catalog, sender notification.EmailSender, logger zerolog.Logger) *Service {
	return &Service{accounts: accounts, catalog: cat, sender: sender, logger: logger}
}

// SendMessage sends req from the primary address with HTML and PDF
// renderings of the markdown message.
func (s *Service) SendMessage(ctx context.Context, req MessageRequest) error {
	html := document.Markdown(req.Message)
	pdf, err := document.PDF(html)
	if err != nil {
		return err
	}

	msg := &notification.Message{
		From:    s.accounts.Primary.Address(),
		To:      req.Recipient,
		Subject: req.Subject,
		Text:    req.Message,
		HTML:    html,
		Attachments: []notification.Attachment{
			{Name: "patient.pdf", ContentType: "application/pdf", Content: pdf},
		},
	}
	if err := s.sender.Send(ctx, s.accounts.Primary, msg); err != nil {
		return err
	}
	s.logger.Info().Str("to", req.Recipient).Msg("direct message sent")
	return nil
}

// SendApps builds the anonymized patient graph the selected apps need and
// sends it with their manifests from the alternate to the primary address.
func (s *Service) SendApps(ctx context.Context, src records.Source, req AppsRequest) error {
	sel, err := s.catalog.Select(ctx, req.AppIDs)
	if err != nil {
		return err
	}

	manifest, err := json.Marshal(Manifest{From: req.Sender, To: req.Recipient, Apps: sel.Apps})
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	g, err := PatientGraph(ctx, src, sel)
	if err != nil {
		return err
	}
	var patient bytes.Buffer
	if err := rdf.Anonymize(g).EncodeRDFXML(&patient); err != nil {
		return fmt.Errorf("encode patient graph: %w", err)
	}

	msg := &notification.Message{
		From:    s.accounts.Alternate.Address(),
		To:      s.accounts.Primary.Address(),
		Subject: s.accounts.SubjectPrefix + req.Subject,
		Text:    req.Message,
		HTML:    req.Message,
		Attachments: []notification.Attachment{
			{Name: "patient.xml", ContentType: "text/xml", Content: patient.Bytes()},
			{Name: "manifest.json", ContentType: "application/json", Content: manifest},
		},
	}
	if err := s.sender.Send(ctx, s.accounts.Alternate, msg); err != nil {
		return err
	}
	s.logger.Info().
		Strs("apps", req.AppIDs).
		Strs("apis", sel.APIs).
		Int("triples", g.Len()).
		Msg("app share sent")
	return nil
}

// PatientGraph merges demographics with every record category the
// selection needs.
func PatientGraph(ctx context.Context, src records.Source, sel *catalog.Selection) (*rdf.Graph, error) {
	g, err := src.Demographics(ctx)
	if err != nil {
		return nil, fmt.Errorf("demographics: %w", err)
	}
	extra := []struct {
		api   string
		fetch func(context.Context) (*rdf.Graph, error)
	}{
		{APIProblems, src.Problems},
		{APIMedications, src.Medications},
		{APIVitalSigns, src.VitalSigns},
	}
	for _, e := range extra {
		if !sel.Needs(e.api) {
			continue
		}
		part, err := e.fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.api, err)
		}
		g.Merge(part)
	}
	return g, nil
}
