package layout

import (
	"net/url"
	"path"
	"strings"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
)

// IsAbsoluteRef reports whether ref is an absolute reference: a URL with a
// scheme or a rooted filesystem path.
func IsAbsoluteRef(ref string) bool {
	if strings.HasPrefix(ref, "/") {
		return true
	}
	u, err := url.Parse(ref)
	return err == nil && u.Scheme != "" && len(u.Scheme) > 1
}

// Relative returns the reference to target as seen from the document at
// fromDoc. Both must be relative layout paths; absolute input is a contract
// violation and fails.
func Relative(fromDoc, target string) (string, error) {
	if IsAbsoluteRef(fromDoc) || IsAbsoluteRef(target) {
		return "", engine.NewPermanentError("relative reference requires layout paths", nil).
			WithCode(engine.ErrCodeHrefRule).
			WithDetail("from", fromDoc).
			WithDetail("target", target)
	}

	from := splitClean(path.Dir(fromDoc))
	to := splitClean(target)

	common := 0
	for common < len(from) && common < len(to)-1 && from[common] == to[common] {
		common++
	}

	parts := make([]string, 0, len(from)-common+len(to)-common)
	for i := common; i < len(from); i++ {
		parts = append(parts, "..")
	}
	parts = append(parts, to[common:]...)
	return strings.Join(parts, "/"), nil
}

func splitClean(p string) []string {
	p = path.Clean(p)
	if p == "." || p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// HrefResolver applies the addressing rule on top of a Layout: primary raster
// assets are absolute under the store root, every other reference is relative
// to the document that embeds it.
type HrefResolver struct {
	root   string
	layout Layout
}

// NewHrefResolver validates storeRoot and returns a resolver. The root must be
// absolute, e.g. s3://bucket, sftp://host/base, file:///srv/catalog or /srv/catalog.
func NewHrefResolver(storeRoot string, l Layout) (*HrefResolver, error) {
	if storeRoot == "" || !IsAbsoluteRef(storeRoot) {
		return nil, engine.NewPermanentError("store root must be an absolute reference", nil).
			WithCode(engine.ErrCodeHrefRule).
			WithResource(storeRoot)
	}
	if l.JobID() == "" {
		return nil, engine.NewConfigError("layout has no job id")
	}
	return &HrefResolver{root: strings.TrimRight(storeRoot, "/"), layout: l}, nil
}

// Layout returns the resolver's layout.
func (r *HrefResolver) Layout() Layout { return r.layout }

// StoreRoot returns the normalised store root.
func (r *HrefResolver) StoreRoot() string { return r.root }

// PrimaryAssetHref returns <root>/jobs/<job>/assets/<item>/<key>.
func (r *HrefResolver) PrimaryAssetHref(itemID, key string) string {
	return r.root + "/" + r.layout.AssetPath(itemID, key)
}

// ThumbnailHref returns the thumbnail reference relative to the item document.
func (r *HrefResolver) ThumbnailHref(itemID, name string) (string, error) {
	return Relative(r.layout.ItemPath(itemID), r.layout.ThumbPath(itemID, name))
}

// AdditionalAssetHref returns a non-primary asset reference relative to the item document.
func (r *HrefResolver) AdditionalAssetHref(itemID, key string) (string, error) {
	return Relative(r.layout.ItemPath(itemID), r.layout.AssetPath(itemID, key))
}

// PMTilesHref returns the vector tile reference relative to the collection document.
func (r *HrefResolver) PMTilesHref() (string, error) {
	return Relative(r.layout.CollectionPath(), r.layout.PMTilesPath())
}

// ItemLinkHref returns the item reference relative to the collection document.
func (r *HrefResolver) ItemLinkHref(itemID string) (string, error) {
	return Relative(r.layout.CollectionPath(), r.layout.ItemPath(itemID))
}

// CollectionLinkHref returns the collection reference relative to an item document.
func (r *HrefResolver) CollectionLinkHref(itemID string) (string, error) {
	return Relative(r.layout.ItemPath(itemID), r.layout.CollectionPath())
}

// SelfHref returns an item document's reference to itself.
func (r *HrefResolver) SelfHref(itemID string) (string, error) {
	return Relative(r.layout.ItemPath(itemID), r.layout.ItemPath(itemID))
}

// ObjectURL returns the absolute reference of any layout path under the store root.
func (r *HrefResolver) ObjectURL(layoutPath string) string {
	return r.root + "/" + strings.TrimLeft(layoutPath, "/")
}
