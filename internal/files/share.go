package files

import (
	"context"
	"fmt"
	"net/http"

	"github.com/brianly1003/docsync/internal/domain"
	"github.com/brianly1003/docsync/internal/pathutil"
	"github.com/skip2/go-qrcode"
)

// Share permissions accepted by the service.
const (
	PermissionView = "view"
	PermissionEdit = "edit"
)

// ShareRequest describes a share link to create.
type ShareRequest struct {
	Permission string `json:"permission"`
}

// ShareLink is a created share link.
type ShareLink struct {
	Path       string `json:"path"`
	URL        string `json:"url"`
	Permission string `json:"permission"`
}

// QRCode renders the link as a PNG of size pixels.
func (l ShareLink) QRCode(size int) ([]byte, error) {
	if l.URL == "" {
		return nil, fmt.Errorf("share link has no url")
	}
	return qrcode.Encode(l.URL, qrcode.Medium, size)
}

// TerminalQR renders the link for a text terminal.
func (l ShareLink) TerminalQR() (string, error) {
	if l.URL == "" {
		return "", fmt.Errorf("share link has no url")
	}
	qr, err := qrcode.New(l.URL, qrcode.Medium)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}

// Share creates a share link for path. An empty permission means view.
func (c *Client) Share(ctx context.Context, path string, req ShareRequest) (ShareLink, error) {
	switch req.Permission {
	case "":
		req.Permission = PermissionView
	case PermissionView, PermissionEdit:
	default:
		return ShareLink{}, domain.NewValidationError("permission", fmt.Sprintf("unknown permission %q", req.Permission))
	}

	body := map[string]string{
		"path":       pathutil.Normalize(path),
		"permission": req.Permission,
	}
	var out ShareLink
	err := c.doJSON(ctx, http.MethodPost, apiPrefix+"/share", body, &out)
	return out, err
}
