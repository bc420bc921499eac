package server

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"example.com/gsfgate/internal/common"
	"example.com/gsfgate/internal/gsf"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("parse multipart: %v", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()
	var refs []ArtifactRef
	for _, files := range r.MultipartForm.File {
		for _, fh := range files {
			ref, err := s.saveUploadedFile(fh)
			if err != nil {
				http.Error(w, fmt.Sprintf("save upload %s: %v", fh.Filename, err), http.StatusBadRequest)
				return
			}
			common.Logf("upload %s (%s) stored as %s", ref.Name, common.FormatBytes(ref.Size), ref.ID)
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		http.Error(w, "no files uploaded", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Files []ArtifactRef `json:"files"`
	}{Files: refs})
}

// checkGSFStart rejects a survey line whose first datagram is not a GSF
// header record.
func checkGSFStart(r *bufio.Reader) error {
	buf, err := r.Peek(8)
	if err != nil {
		return fmt.Errorf("too short for a GSF file: %w", err)
	}
	hdr, err := gsf.ParseDatagramHeader(buf)
	if err != nil {
		return err
	}
	if hdr.Type != gsf.RecordHeader {
		return fmt.Errorf("first record is %s, want %s", hdr.Type, gsf.RecordHeader)
	}
	return nil
}

func (s *Server) saveUploadedFile(fh *multipart.FileHeader) (ArtifactRef, error) {
	src, err := fh.Open()
	if err != nil {
		return ArtifactRef{}, err
	}
	defer src.Close()
	name := filepath.Base(fh.Filename)
	in := bufio.NewReader(src)
	if common.IsGSFFile(name) {
		if err := checkGSFStart(in); err != nil {
			return ArtifactRef{}, err
		}
	}
	dest, err := os.CreateTemp(s.uploadsDir, "upload-*"+filepath.Ext(name))
	if err != nil {
		return ArtifactRef{}, err
	}
	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(dest, h), in)
	if closeErr := dest.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dest.Name())
		return ArtifactRef{}, err
	}
	art, err := s.newArtifact(dest.Name(), name, "", "upload")
	if err != nil {
		return ArtifactRef{}, err
	}
	art.SHA256 = hex.EncodeToString(h.Sum(nil))
	s.storeArtifact(art)
	return toRef(art), nil
}
