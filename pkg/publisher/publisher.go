package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/geoexhibit/geoexhibit/pkg/engine"
	"github.com/geoexhibit/geoexhibit/pkg/layout"
	"github.com/geoexhibit/geoexhibit/pkg/stac"
)

// Object kinds passed to Observer.
const (
	KindAsset     = "asset"
	KindThumbnail = "thumbnail"
	KindDocument  = "document"
	KindPMTiles   = "pmtiles"
)

// Observer is told about every stored object.
type Observer interface {
	ObjectPublished(kind string, size int64)
}

// Options configures a Publisher.
type Options struct {
	// Logger is optional.
	Logger *zerolog.Logger

	// Observer is optional.
	Observer Observer
}

// Publisher writes plans into an object store.
type Publisher struct {
	store    ObjectStore
	log      zerolog.Logger
	observer Observer
}

// Result summarises one Publish call.
type Result struct {
	Objects int
	Bytes   int64

	// Skipped lists local files that were missing and not uploaded.
	Skipped []string
}

// New returns a publisher over store.
func New(store ObjectStore, opts Options) *Publisher {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Publisher{
		store:    store,
		log:      log.With().Str("component", "publisher").Str("store", store.Root()).Logger(),
		observer: opts.Observer,
	}
}

// Store returns the underlying store.
func (p *Publisher) Store() ObjectStore { return p.store }

// Publish uploads assets first, then the catalog documents, then the vector
// tiles. A missing primary asset fails the publish; other missing files are
// skipped with a warning.
func (p *Publisher) Publish(ctx context.Context, plan *engine.PublishPlan, catalog *stac.Catalog) (*Result, error) {
	if catalog == nil || catalog.JobID != plan.JobID {
		return nil, engine.NewValidationError("catalog does not belong to job %s", plan.JobID)
	}
	l := layout.New(plan.JobID)
	log := p.log.With().Str("job_id", plan.JobID).Logger()
	log.Info().Int("items", plan.ItemCount()).Msg("Publishing plan")

	res := &Result{}
	for _, item := range plan.Items {
		primary := item.Output.PrimaryCOGAsset
		if err := p.putFile(ctx, res, KindAsset, primary.Href, l.AssetPath(item.ItemID, primary.Key), primary.MediaType, true); err != nil {
			return nil, err
		}

		for _, asset := range item.Output.AdditionalAssets {
			kind, target := KindAsset, l.AssetPath(item.ItemID, asset.Key)
			if asset.HasRole(engine.RoleThumbnail) {
				kind, target = KindThumbnail, l.ThumbPath(item.ItemID, asset.Key)
			}
			if err := p.putFile(ctx, res, kind, asset.Href, target, asset.MediaType, false); err != nil {
				return nil, err
			}
		}
	}

	docs, err := catalog.Encode()
	if err != nil {
		return nil, err
	}
	for _, doc := range docs {
		if err := p.store.Put(ctx, doc.Path, bytes.NewReader(doc.Data), stac.MediaTypeJSON); err != nil {
			return nil, err
		}
		p.record(res, KindDocument, int64(len(doc.Data)))
	}

	if plan.HasPMTiles() {
		if err := p.putFile(ctx, res, KindPMTiles, plan.PMTilesPath, l.PMTilesPath(), stac.MediaTypePMTiles, false); err != nil {
			return nil, err
		}
	}

	log.Info().
		Int("objects", res.Objects).
		Int64("bytes", res.Bytes).
		Int("skipped", len(res.Skipped)).
		Msg("Plan published")
	return res, nil
}

func (p *Publisher) putFile(ctx context.Context, res *Result, kind, href, target, mediaType string, required bool) error {
	local, ok := localPath(href)
	if !ok {
		if required {
			return engine.NewPermanentError(fmt.Sprintf("asset href %q is not a local file", href), nil).
				WithCode(engine.ErrCodeValidation).
				WithResource(target)
		}
		p.log.Warn().Str("href", href).Str("target", target).Msg("Skipping non-local asset")
		res.Skipped = append(res.Skipped, href)
		return nil
	}

	f, err := os.Open(local)
	if errors.Is(err, fs.ErrNotExist) {
		if required {
			return engine.NewPermanentError("primary asset file not found", err).
				WithCode(engine.ErrCodeNotFound).
				WithResource(local)
		}
		p.log.Warn().Str("path", local).Str("target", target).Msg("Skipping missing file")
		res.Skipped = append(res.Skipped, local)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", local, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", local, err)
	}

	contentType := mediaType
	if contentType == "" {
		contentType = DetectContentType(local)
	}
	if err := p.store.Put(ctx, target, f, contentType); err != nil {
		return err
	}
	p.log.Debug().Str("path", local).Str("target", target).Str("content_type", contentType).Msg("Uploaded file")
	p.record(res, kind, info.Size())
	return nil
}

func (p *Publisher) record(res *Result, kind string, size int64) {
	res.Objects++
	res.Bytes += size
	if p.observer != nil {
		p.observer.ObjectPublished(kind, size)
	}
}

// localPath accepts plain paths and file:// URLs.
func localPath(href string) (string, bool) {
	if href == "" {
		return "", false
	}
	if strings.HasPrefix(href, "file://") {
		u, err := url.Parse(href)
		if err != nil {
			return "", false
		}
		return u.Path, true
	}
	u, err := url.Parse(href)
	if err == nil && len(u.Scheme) > 1 {
		return "", false
	}
	return href, true
}

// Verification is the outcome of Verify.
type Verification struct {
	Checked  int
	Problems []string
}

// Passed reports whether every check succeeded.
func (v *Verification) Passed() bool { return len(v.Problems) == 0 }

// Err returns a VERIFICATION_FAILED error listing the problems, or nil.
func (v *Verification) Err(jobID string) error {
	if v.Passed() {
		return nil
	}
	return engine.NewPermanentError(fmt.Sprintf("verification failed: %s", strings.Join(v.Problems, "; ")), nil).
		WithCode(engine.ErrCodeVerification).
		WithResource(jobID)
}

func (v *Verification) fail(format string, args ...interface{}) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

// Verify reads the published documents back and checks that the collection,
// every item, every primary asset and the vector tiles are in place.
func (p *Publisher) Verify(ctx context.Context, plan *engine.PublishPlan) (*Verification, error) {
	l := layout.New(plan.JobID)
	v := &Verification{}

	var collection struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if ok, err := p.readJSON(ctx, v, l.CollectionPath(), &collection); err != nil {
		return nil, err
	} else if ok {
		if collection.Type != "Collection" {
			v.fail("%s: type is %q, want Collection", l.CollectionPath(), collection.Type)
		}
		if collection.ID != plan.CollectionID {
			v.fail("%s: id is %q, want %q", l.CollectionPath(), collection.ID, plan.CollectionID)
		}
	}

	for _, item := range plan.Items {
		var doc struct {
			Type   string `json:"type"`
			ID     string `json:"id"`
			Assets map[string]struct {
				Roles []string `json:"roles"`
			} `json:"assets"`
		}
		itemPath := l.ItemPath(item.ItemID)
		ok, err := p.readJSON(ctx, v, itemPath, &doc)
		if err != nil {
			return nil, err
		}
		if ok {
			if doc.Type != "Feature" {
				v.fail("%s: type is %q, want Feature", itemPath, doc.Type)
			}
			if doc.ID != item.ItemID {
				v.fail("%s: id is %q, want %q", itemPath, doc.ID, item.ItemID)
			}
			found := false
			for _, a := range doc.Assets {
				if hasRoles(a.Roles, engine.RoleData, engine.RolePrimary) {
					found = true
					break
				}
			}
			if !found {
				v.fail("%s: no data+primary asset", itemPath)
			}
		}

		if err := p.head(ctx, v, l.AssetPath(item.ItemID, item.Output.PrimaryCOGAsset.Key)); err != nil {
			return nil, err
		}
	}

	if plan.HasPMTiles() {
		if err := p.head(ctx, v, l.PMTilesPath()); err != nil {
			return nil, err
		}
	}

	event := p.log.Info()
	if !v.Passed() {
		event = p.log.Error().Strs("problems", v.Problems)
	}
	event.Str("job_id", plan.JobID).Int("checked", v.Checked).Bool("passed", v.Passed()).Msg("Verification finished")
	return v, nil
}

// readJSON records missing or unreadable objects as problems. Cancellation
// and retryable store failures are returned instead.
func (p *Publisher) readJSON(ctx context.Context, v *Verification, key string, out interface{}) (bool, error) {
	v.Checked++
	data, err := p.store.Get(ctx, key)
	if err != nil {
		if err := abortVerify(ctx, err); err != nil {
			return false, err
		}
		v.fail("%s: %v", key, err)
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		v.fail("%s: invalid JSON: %v", key, err)
		return false, nil
	}
	return true, nil
}

func (p *Publisher) head(ctx context.Context, v *Verification, key string) error {
	v.Checked++
	if _, err := p.store.Head(ctx, key); err != nil {
		if err := abortVerify(ctx, err); err != nil {
			return err
		}
		v.fail("%s: %v", key, err)
	}
	return nil
}

func abortVerify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if engine.IsRetryable(err) {
		return err
	}
	return nil
}

func hasRoles(roles []string, want ...string) bool {
	for _, w := range want {
		found := false
		for _, r := range roles {
			if r == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
