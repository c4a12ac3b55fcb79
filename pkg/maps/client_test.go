package maps

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	pkgerrors "github.com/angelmondragon/marketledger-backend/pkg/errors"
)

func TestLocatePlaceRequest(t *testing.T) {
	const expectedURL = "http://maps.test/v1/places/place_123"
	respBody := `{"id":"place_123","formattedAddress":"123 Demo St","location":{"latitude":1.23,"longitude":-4.56}}`

	var capturedURL string
	var capturedHeaders http.Header
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedHeaders = req.Header.Clone()
		return jsonResponse(http.StatusOK, respBody), nil
	})

	place, err := client.LocatePlace(context.Background(), " place_123 ")
	if err != nil {
		t.Fatalf("locate place: %v", err)
	}
	if capturedURL != expectedURL {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if capturedHeaders.Get("X-Goog-Api-Key") != "test-key" {
		t.Fatalf("api key header missing")
	}
	if capturedHeaders.Get("X-Goog-FieldMask") != placeFieldMask {
		t.Fatalf("unexpected field mask %q", capturedHeaders.Get("X-Goog-FieldMask"))
	}
	if place.Latitude != 1.23 || place.Longitude != -4.56 {
		t.Fatalf("unexpected location %+v", place)
	}
	if place.FormattedAddress != "123 Demo St" {
		t.Fatalf("unexpected address %q", place.FormattedAddress)
	}
}

func TestLocatePlaceUnknownIDIsValidationError(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusNotFound, `{"error":{"status":"NOT_FOUND"}}`), nil
	})

	_, err := client.LocatePlace(context.Background(), "missing")
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLocatePlaceWithoutLocationFails(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"id":"place_1"}`), nil
	})

	_, err := client.LocatePlace(context.Background(), "place_1")
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatalf("expected error for blank key")
	}
}

func newTestClient(t *testing.T, fn roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient("test-key", WithBaseURL("http://maps.test/v1"), WithHTTPClient(&http.Client{Transport: fn}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
