package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ehr/medtrack/internal/domain/adherence"
)

// RESTRepository implements adherence.Repository over the records API.
type RESTRepository struct {
	client *Client
}

// NewRESTRepository returns a repository backed by client.
func NewRESTRepository(client *Client) *RESTRepository {
	return &RESTRepository{client: client}
}

var _ adherence.Repository = (*RESTRepository)(nil)

func (r *RESTRepository) FetchSnapshot(ctx context.Context) (*adherence.Snapshot, error) {
	data, _, err := r.client.do(ctx, "fetch prescriptions", http.MethodGet, PathMyPrescriptions, nil)
	if err != nil {
		return nil, err
	}
	return adherence.DecodeSnapshot(data, r.client.now().UTC())
}

func (r *RESTRepository) FetchStats(ctx context.Context) (*adherence.ComplianceStats, error) {
	data, _, err := r.client.do(ctx, "fetch stats", http.MethodGet, PathStats, nil)
	if err != nil {
		return nil, err
	}
	return adherence.DecodeStats(data)
}

// MarkTaken posts the item id. A 409 from the API means the item was already
// taken.
func (r *RESTRepository) MarkTaken(ctx context.Context, itemID string) (adherence.MarkStatus, error) {
	req := adherence.MarkTakenRequest{PrescriptionItemID: itemID}
	_, status, err := r.client.do(ctx, "mark taken", http.MethodPost, PathMarkTaken, req)
	if status == http.StatusConflict {
		return adherence.StatusAlreadyTaken, nil
	}
	if err != nil {
		return "", err
	}
	return adherence.StatusMarked, nil
}

func (r *RESTRepository) PatientHistory(ctx context.Context, dni string) (*adherence.PatientHistory, error) {
	dni = strings.TrimSpace(dni)
	data, _, err := r.client.do(ctx, "patient history", http.MethodGet, PathHistory+url.PathEscape(dni), nil)
	if err != nil {
		return nil, err
	}
	return adherence.DecodeHistory(data)
}
