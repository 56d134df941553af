package agent

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/warpdl/dlmgr/common"
)

// PartSuffix marks an incomplete download.
const PartSuffix = ".part"

// maxUnique bounds the search for a free file name.
const maxUnique = 1000

// FileName picks the local file name: the job's explicit name, then the
// Content-Disposition filename, then the last URL path segment.
func FileName(job Job, disposition string) string {
	if job.FileName != "" {
		return sanitize(job.FileName)
	}
	if disposition != "" {
		if _, p, err := mime.ParseMediaType(disposition); err == nil && p["filename"] != "" {
			return sanitize(p["filename"])
		}
	}
	if u, err := url.Parse(job.URL); err == nil {
		if name := sanitize(path.Base(u.Path)); name != "" {
			return name
		}
	}
	return "download"
}

func sanitize(name string) string {
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case ".", "..", "/":
		return ""
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 || strings.ContainsRune(`<>:"|?*`, r) {
			return '_'
		}
		return r
	}, name)
}

// UniquePath returns p, or p with a numeric suffix before the extension,
// whichever does not exist yet.
func UniquePath(fs afero.Fs, p string) (string, error) {
	ext := filepath.Ext(p)
	stem := strings.TrimSuffix(p, ext)
	cand := p
	for i := 1; i <= maxUnique; i++ {
		ok, err := afero.Exists(fs, cand)
		if err != nil {
			return "", err
		}
		if !ok {
			return cand, nil
		}
		cand = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
	return "", common.Errorf(common.ERROR_FILE_ALREADY_EXISTS, "%s", p)
}
