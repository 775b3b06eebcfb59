// Package catalogue is an HTTP client for the hypermedia sample catalogue.
// Created resources are identified by the last path segment of a named link
// in the response document; relationships are created by PUTting a
// text/uri-list body to the relation endpoint of the source resource.
package catalogue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Collection names used in resource URLs.
const (
	CollectionBiomaterials = "biomaterials"
	CollectionProcesses    = "processes"
	CollectionFiles        = "files"
	CollectionEnvelopes    = "submissionEnvelopes"
	CollectionDatasets     = "datasets"
	CollectionStudies      = "studies"
)

// Relation names used when linking resources.
const (
	RelSelf                = "self"
	RelInputToProcesses    = "inputToProcesses"
	RelDerivedByProcesses  = "derivedByProcesses"
	RelSubmissionEnvelopes = "submissionEnvelopes"
	RelChildBiomaterials   = "childBiomaterials"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeURIList = "text/uri-list"
	maxErrorBody       = 512
	defaultTimeout     = 60 * time.Second
)

// ErrUnauthorized is matched by errors.Is for 401 and 403 responses.
var ErrUnauthorized = errors.New("catalogue rejected credentials")

// ErrMissingLink is returned when a response document lacks the requested relation.
var ErrMissingLink = errors.New("response has no such link")

// StatusError reports a non-success HTTP status.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is maps authorization failures onto ErrUnauthorized.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && (e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden)
}

// Ref addresses a resource by collection and identifier.
type Ref struct {
	Collection string
	ID         string
}

func (r Ref) String() string { return r.Collection + "/" + r.ID }

// Link is a hypermedia link.
type Link struct {
	Href string `json:"href"`
}

// Document is a decoded hypermedia response.
type Document struct {
	Links map[string]Link `json:"_links"`
}

// ID returns the last path segment of the named link.
func (d Document) ID(rel string) (string, error) {
	link, ok := d.Links[rel]
	if !ok || link.Href == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingLink, rel)
	}
	return lastSegment(link.Href)
}

func lastSegment(href string) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", href, err)
	}
	path := strings.TrimRight(u.Path, "/")
	idx := strings.LastIndex(path, "/")
	id := path[idx+1:]
	if id == "" {
		return "", fmt.Errorf("link %q has no identifier segment", href)
	}
	return id, nil
}

// Dataset lists the resources linked to a dataset.
type Dataset struct {
	ID           string   `json:"id"`
	Biomaterials []string `json:"biomaterials"`
	Processes    []string `json:"processes"`
	Files        []string `json:"files"`
}

// Client talks to one catalogue deployment.
type Client struct {
	baseURL string
	http    *http.Client
	ts      oauth2.TokenSource
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTokenSource authenticates every request with a bearer token.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(cl *Client) { cl.ts = ts }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// New constructs a client for baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid catalogue base url %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		http:    http.DefaultClient,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ts != nil {
		base := c.http.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		wrapped := *c.http
		wrapped.Transport = &oauth2.Transport{Source: c.ts, Base: base}
		c.http = &wrapped
	}
	return c, nil
}

// BaseURL returns the normalised catalogue root.
func (c *Client) BaseURL() string { return c.baseURL }

// URL returns the absolute URL of a resource.
func (c *Client) URL(ref Ref) string {
	return c.baseURL + "/" + ref.Collection + "/" + url.PathEscape(ref.ID)
}

// CreateEnvelope opens a new submission envelope and returns its identifier.
func (c *Client) CreateEnvelope(ctx context.Context) (string, error) {
	doc, err := c.post(ctx, c.baseURL+"/"+CollectionEnvelopes+"/updateSubmissions", map[string]any{})
	if err != nil {
		return "", err
	}
	return doc.ID(RelSelf)
}

// CreateInEnvelope creates a resource of collection inside the envelope.
func (c *Client) CreateInEnvelope(ctx context.Context, envelopeID, collection string, body any) (string, error) {
	doc, err := c.post(ctx, c.URL(Ref{CollectionEnvelopes, envelopeID})+"/"+collection, body)
	if err != nil {
		return "", err
	}
	return doc.ID(RelSelf)
}

// CreateChild creates a biomaterial as a child of parentID.
func (c *Client) CreateChild(ctx context.Context, parentID string, body any) (string, error) {
	doc, err := c.post(ctx, c.URL(Ref{CollectionBiomaterials, parentID})+"/"+RelChildBiomaterials, body)
	if err != nil {
		return "", err
	}
	return doc.ID(RelSelf)
}

// Link relates from to target through relation.
func (c *Client) Link(ctx context.Context, from Ref, relation string, target Ref) error {
	endpoint := c.URL(from) + "/" + relation
	resp, err := c.do(ctx, http.MethodPut, endpoint, contentTypeURIList, strings.NewReader(c.URL(target)))
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// LinkToDataset adds a resource to a dataset.
func (c *Client) LinkToDataset(ctx context.Context, datasetID string, target Ref) error {
	return c.Link(ctx, Ref{CollectionDatasets, datasetID}, target.Collection, target)
}

// LinkDatasetToStudy attaches a dataset to a study.
func (c *Client) LinkDatasetToStudy(ctx context.Context, studyID, datasetID string) error {
	endpoint := c.URL(Ref{CollectionStudies, studyID}) + "/" + CollectionDatasets + "/" + url.PathEscape(datasetID)
	resp, err := c.do(ctx, http.MethodPut, endpoint, "", nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// Patch replaces the content of an existing resource.
func (c *Client) Patch(ctx context.Context, ref Ref, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode patch body: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPatch, c.URL(ref), contentTypeJSON, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// Get fetches a resource as a generic document.
func (c *Client) Get(ctx context.Context, ref Ref) (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON(ctx, c.URL(ref), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDataset fetches the identifiers linked to a dataset.
func (c *Client) GetDataset(ctx context.Context, datasetID string) (Dataset, error) {
	var ds Dataset
	if err := c.getJSON(ctx, c.URL(Ref{CollectionDatasets, datasetID}), &ds); err != nil {
		return Dataset{}, err
	}
	if ds.ID == "" {
		ds.ID = datasetID
	}
	return ds, nil
}

// Delete removes a resource. deleteLinked asks the catalogue to cascade.
func (c *Client) Delete(ctx context.Context, ref Ref, deleteLinked bool) error {
	q := url.Values{"deleteLinkedEntities": []string{strconv.FormatBool(deleteLinked)}}
	resp, err := c.do(ctx, http.MethodDelete, c.URL(ref)+"?"+q.Encode(), "", nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// DeleteEnvelope force-deletes a submission envelope and its contents.
func (c *Client) DeleteEnvelope(ctx context.Context, envelopeID string) error {
	q := url.Values{"force": []string{"true"}}
	resp, err := c.do(ctx, http.MethodDelete, c.URL(Ref{CollectionEnvelopes, envelopeID})+"?"+q.Encode(), "", nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, body any) (Document, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Document{}, fmt.Errorf("encode request body: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, endpoint, contentTypeJSON, bytes.NewReader(payload))
	if err != nil {
		return Document{}, err
	}
	defer drain(resp)
	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return doc, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return err
	}
	defer drain(resp)
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

// do issues a request and returns the response only for success statuses.
func (c *Client) do(ctx context.Context, method, endpoint, contentType string, body io.Reader) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/hal+json, application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	if !successStatus(resp.StatusCode) {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		drain(resp)
		return nil, &StatusError{Method: method, URL: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}

func successStatus(code int) bool {
	switch code {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return true
	}
	return false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// cancelBody releases the request context once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
