// Package protocol defines the repository API response shapes.
package protocol

import "github.com/fruitsalade/repostream/pkg/models"

// StoragePage is returned by GET .../storage/content/{proto}/{path}?paging=true
type StoragePage struct {
	Entries   []models.RemoteEntry `json:"entries"`
	Limit     int                  `json:"limit"`
	NextToken string               `json:"next_token,omitempty"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Text returns whichever error field the server filled in.
func (e ErrorResponse) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// BucketResponse is one item of GET .../storage
type BucketResponse struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Region   string `json:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Bucket converts the wire shape to the domain type.
func (b BucketResponse) Bucket() models.Bucket {
	return models.Bucket{Name: b.Name, Protocol: b.Protocol}
}
