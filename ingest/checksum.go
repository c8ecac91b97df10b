package ingest

import (
	"crypto/md5"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// sniffLen is how much of the file head is kept for MIME detection.
const sniffLen = 512

// ContentIdentity holds the checksums, size, and MIME type computed
// from one streaming pass over a file's content.
type ContentIdentity struct {
	MD5Sum    string
	SHA512Sum string
	Size      int64
	MimeType  string
}

// ComputeIdentity streams r through MD5 and SHA-512 while capturing
// the first sniffLen bytes for MIME detection. The filename is only a
// fallback: content sniffing wins, the extension is used when the
// content is indistinct.
func ComputeIdentity(r io.Reader, filename string) (ContentIdentity, error) {
	md5h := md5.New()
	shah := sha512.New()

	head := make([]byte, 0, sniffLen)
	buf := make([]byte, 64*1024)
	var size int64

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if len(head) < sniffLen {
				take := sniffLen - len(head)
				if take > n {
					take = n
				}
				head = append(head, chunk[:take]...)
			}
			md5h.Write(chunk)
			shah.Write(chunk)
			size += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return ContentIdentity{}, fmt.Errorf("read content: %w", readErr)
		}
	}

	return ContentIdentity{
		MD5Sum:    hex.EncodeToString(md5h.Sum(nil)),
		SHA512Sum: hex.EncodeToString(shah.Sum(nil)),
		Size:      size,
		MimeType:  detectMime(head, filename),
	}, nil
}

// detectMime sniffs the content head, falling back to the extension
// when sniffing only yields the generic octet-stream type.
func detectMime(head []byte, filename string) string {
	if len(head) == 0 {
		return ""
	}
	sniffed := http.DetectContentType(head)
	if sniffed == "application/octet-stream" {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
			return byExt
		}
	}
	return sniffed
}
