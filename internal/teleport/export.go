package teleport

import (
	"archive/tar"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/klauspost/compress/zstd"

	"rewind/internal/sandbox"
)

// ManifestName is the first entry of an export bundle
const ManifestName = "manifest.json"

// Manifest describes an export bundle
type Manifest struct {
	TeleportID  string         `json:"teleport_id"`
	SessionID   string         `json:"session_id"`
	ProjectPath string         `json:"project_path,omitempty"`
	Target      string         `json:"target"`
	Mode        string         `json:"mode"`
	CreatedAt   time.Time      `json:"created_at"`
	ExportedAt  time.Time      `json:"exported_at"`
	Files       []RestoredFile `json:"files"`
	Unresolved  []string       `json:"unresolved,omitempty"`
	Failed      []FailedFile   `json:"failed,omitempty"`
}

// Export writes a zstd-compressed tar of the restored files to w. Files are
// read back from the sandbox, so edits made since the restore are included.
// Entries live under files/ at their path relative to the filesystem root.
func (o *Orchestrator) Export(ctx context.Context, tp *Session, w io.Writer) error {
	if err := tp.checkActive(); err != nil {
		return err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	manifest := Manifest{
		TeleportID:  tp.ID,
		SessionID:   tp.SessionID,
		ProjectPath: tp.ProjectPath,
		Target:      tp.Target,
		Mode:        tp.Mode,
		CreatedAt:   tp.CreatedAt,
		ExportedAt:  time.Now(),
		Files:       make([]RestoredFile, 0, len(tp.Files)),
		Unresolved:  tp.Unresolved,
		Failed:      tp.Failed,
	}

	type entry struct {
		name string
		data []byte
	}
	var entries []entry
	for _, f := range tp.Files {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return err
		}
		data, err := tp.Sandbox.ReadFile(ctx, f.Path)
		if err != nil {
			o.logger.Warn("export skipped file", "teleport", tp.ID, "path", f.Path, "error", err)
			continue
		}
		rel, err := sandbox.RelPath(f.Path)
		if err != nil {
			continue
		}
		f.Size = len(data)
		manifest.Files = append(manifest.Files, f)
		entries = append(entries, entry{name: path.Join("files", rel), data: data})
	}

	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		zw.Close()
		return fmt.Errorf("encode manifest: %w", err)
	}

	if err := writeEntry(tw, ManifestName, raw, manifest.ExportedAt); err != nil {
		zw.Close()
		return err
	}
	for _, e := range entries {
		if err := writeEntry(tw, e.name, e.data, manifest.ExportedAt); err != nil {
			zw.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		zw.Close()
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0644,
		Size:    int64(len(data)),
		ModTime: modTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write %s header: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// ReadManifest decodes the manifest of an export bundle
func ReadManifest(r io.Reader) (*Manifest, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open zstd: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("%s not found", ManifestName)
		}
		if err != nil {
			return nil, fmt.Errorf("read bundle: %w", err)
		}
		if hdr.Name != ManifestName {
			continue
		}
		var m Manifest
		if err := json.NewDecoder(tr).Decode(&m); err != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		return &m, nil
	}
}
