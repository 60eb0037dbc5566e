package services

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/gabriel-vasile/mimetype"

	"GigEscrow/internal/apperr"
)

const MaxProofSize = 5 << 20

var allowedProofTypes = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"application/pdf": "pdf",
}

// ProofStorage keeps proof-of-transfer files for completed withdrawals.
type ProofStorage interface {
	UploadProof(ctx context.Context, file *multipart.FileHeader, reference string) (*UploadResult, error)
	DeleteFile(ctx context.Context, publicID string) error
}

type CloudinaryService struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinaryService(cloudName, apiKey, apiSecret, folder string) (*CloudinaryService, error) {
	if cloudName == "" || apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("cloudinary credentials not set")
	}

	cld, err := cloudinary.NewFromParams(cloudName, apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Cloudinary: %w", err)
	}

	return &CloudinaryService{cld: cld, folder: folder}, nil
}

type UploadResult struct {
	URL          string `json:"url"`
	SecureURL    string `json:"secure_url"`
	PublicID     string `json:"public_id"`
	Format       string `json:"format"`
	ResourceType string `json:"resource_type"`
	Bytes        int    `json:"bytes"`
}

// DetectProofType sniffs the content of an upload and returns its extension.
// The reader is rewound afterwards.
func DetectProofType(r io.ReadSeeker) (string, error) {
	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind file: %w", err)
	}
	for allowed, ext := range allowedProofTypes {
		if mt.Is(allowed) {
			return ext, nil
		}
	}
	return "", apperr.Newf(apperr.ErrValidation, "proof must be a JPEG, PNG or PDF file, got %s", mt.String())
}

// UploadProof checks and uploads a proof-of-transfer file.
func (s *CloudinaryService) UploadProof(ctx context.Context, file *multipart.FileHeader, reference string) (*UploadResult, error) {
	if file.Size > MaxProofSize {
		return nil, apperr.Newf(apperr.ErrValidation, "proof must be at most %d MB", MaxProofSize>>20)
	}

	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	format, err := DetectProofType(src)
	if err != nil {
		return nil, err
	}

	// Generate unique filename
	base := strings.TrimSuffix(filepath.Base(file.Filename), filepath.Ext(file.Filename))
	publicID := fmt.Sprintf("%s_%d_%s", reference, time.Now().Unix(), base)

	uploadParams := uploader.UploadParams{
		Folder:         s.folder,
		PublicID:       publicID,
		ResourceType:   "auto",
		AllowedFormats: []string{format},
	}

	result, err := s.cld.Upload.Upload(ctx, src, uploadParams)
	if err != nil {
		return nil, fmt.Errorf("failed to upload to Cloudinary: %w", err)
	}

	return &UploadResult{
		URL:          result.URL,
		SecureURL:    result.SecureURL,
		PublicID:     result.PublicID,
		Format:       result.Format,
		ResourceType: result.ResourceType,
		Bytes:        result.Bytes,
	}, nil
}

// DeleteFile deletes a file from Cloudinary
func (s *CloudinaryService) DeleteFile(ctx context.Context, publicID string) error {
	_, err := s.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID: publicID,
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from Cloudinary: %w", err)
	}
	return nil
}
