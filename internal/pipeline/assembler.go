package pipeline

import (
	"context"
	"image"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"plate-node/internal/domain/detection"
	"plate-node/internal/imaging"
	"plate-node/internal/ocr"
)

type PlateCorrector interface {
	Correct(img image.Image) image.Image
}

type PlateReader interface {
	Recognize(ctx context.Context, img image.Image) ocr.Result
}

// Assembler turns detector candidates into detection records: NMS, crop,
// deskew, OCR and identity.
type Assembler struct {
	corrector    PlateCorrector
	reader       PlateReader
	nodeID       string
	nodeName     string
	iouThreshold float64
	now          func() time.Time
	log          zerolog.Logger
}

func NewAssembler(corrector PlateCorrector, reader PlateReader, nodeID, nodeName string, log zerolog.Logger) *Assembler {
	return &Assembler{
		corrector:    corrector,
		reader:       reader,
		nodeID:       nodeID,
		nodeName:     nodeName,
		iouThreshold: DefaultIoUThreshold,
		now:          time.Now,
		log:          log,
	}
}

// Assemble returns one record per candidate that survives NMS, highest
// confidence first. Candidates that fall outside the frame are dropped.
func (a *Assembler) Assemble(ctx context.Context, frame image.Image, cands []detection.Candidate) []detection.VehicleDetectionData {
	kept := NonMaxSuppression(cands, a.iouThreshold)
	if len(kept) < len(cands) {
		a.log.Debug().
			Int("candidates", len(cands)).
			Int("kept", len(kept)).
			Msg("suppressed overlapping plate boxes")
	}

	records := make([]detection.VehicleDetectionData, 0, len(kept))
	for _, c := range kept {
		if err := ctx.Err(); err != nil {
			break
		}

		box := ClampBox(c.Box, frame.Bounds())
		if box.Empty() {
			a.log.Debug().Str("box", c.Box.String()).Msg("plate box outside frame")
			continue
		}

		crop := imaging.Crop(frame, image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height))
		plateImg := a.corrector.Correct(crop)
		if plateImg == nil {
			plateImg = crop
		}

		res := a.reader.Recognize(ctx, plateImg)
		record := detection.VehicleDetectionData{
			ID:               uuid.New(),
			NodeID:           a.nodeID,
			NodeName:         a.nodeName,
			PlateNumber:      res.PlateText(),
			PlateBoundingBox: box,
			Confidence:       c.Confidence,
			DetectionTime:    a.now().UTC(),
			VehicleType:      detection.VehicleCar,
			OcrConfidence:    res.Confidence,
		}
		if !res.Success {
			a.log.Debug().
				Str("plate", record.PlateNumber).
				Str("ocr_error", res.ErrorMessage).
				Msg("plate not read")
		}
		records = append(records, record)
	}
	return records
}

// Best returns the record with the highest detector confidence.
func Best(records []detection.VehicleDetectionData) (detection.VehicleDetectionData, bool) {
	if len(records) == 0 {
		return detection.VehicleDetectionData{}, false
	}
	sorted := make([]detection.VehicleDetectionData, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	return sorted[0], true
}
