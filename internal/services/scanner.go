package services

import (
	"context"
	"log"
	"os"

	clamd "github.com/dutchcoders/go-clamd"
)

// FileDisabler is the slice of the store the scanner needs to pull an
// infected file out of circulation.
type FileDisabler interface {
	DisableFile(ctx context.Context, keyFile, reason string) error
}

// Scanner runs ClamAV over freshly registered objects. An infected file is
// disabled with a reason and its object removed from the bucket; the scan
// never blocks the upload flow.
type Scanner struct {
	clam  *clamd.Clamd
	minio *MinioService
	store FileDisabler
}

const disabledReasonInfected = "Arquivo removido por conter malware"

func NewScanner(clamAvURL string, minio *MinioService, store FileDisabler) *Scanner {
	return &Scanner{
		clam:  clamd.NewClamd(clamAvURL),
		minio: minio,
		store: store,
	}
}

// ScanObject downloads the object, scans it and reacts to the verdict.
// Meant to be called from a goroutine after registration. The scratch file
// name is generated locally; the key never becomes part of a path.
func (s *Scanner) ScanObject(ctx context.Context, keyFile string) {
	tmp, err := os.CreateTemp("", "clamscan-*")
	if err != nil {
		log.Println("Failed to create scan scratch file:", err)
		return
	}
	tempPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tempPath)

	if err := s.minio.DownloadFile(ctx, keyFile, tempPath); err != nil {
		log.Println("Failed to download for scanning:", err)
		return
	}

	response, err := s.clam.ScanFile(tempPath)
	if err != nil {
		log.Println("Scan failed:", err)
		return
	}

	for res := range response {
		if res.Status == clamd.RES_FOUND {
			log.Printf("Virus detected in %s: %s", keyFile, res.Description)

			if err := s.store.DisableFile(ctx, keyFile, disabledReasonInfected); err != nil {
				log.Println("Failed to disable infected file:", err)
				return
			}
			if err := s.minio.DeleteFile(ctx, keyFile); err != nil {
				log.Println("Failed to delete infected file:", err)
			}
			return
		}
	}

	log.Printf("Scan finished for %s: clean", keyFile)
}
