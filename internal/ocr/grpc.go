package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/yekkaplan/tcidverify-sub000/internal/logging"
)

// The recognizer speaks JSON frames over gRPC, so no generated stubs are
// vendored here. The codec registers under the "json" content subtype.
const codecName = "json"

const recognizeMethod = "/idverify.Recognizer/Recognize"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type wireRequest struct {
	SessionID string `json:"session_id"`
	Region    string `json:"region"`
	Whitelist string `json:"whitelist,omitempty"`
	ImagePNG  []byte `json:"image_png"`
}

type wireResponse struct {
	Lines []string `json:"lines"`
}

// Dial connects to the recognizer service. Extra dial options come after
// the defaults, so tests can inject an in-memory transport.
func Dial(ctx context.Context, addr string, timeout time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (Recognizer, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("ocr.dial", "", err)
		logger.Error("failed to dial recognizer", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return &grpcRecognizer{conn: conn, timeout: timeout, logger: logger}, conn, nil
}

type grpcRecognizer struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  *zap.Logger
}

func (g *grpcRecognizer) Recognize(ctx context.Context, req Request) ([]string, error) {
	if req.Image == nil {
		return nil, logging.NewOperationError("ocr.recognize", req.SessionID, ErrUnavailable)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, req.Image); err != nil {
		return nil, logging.NewOperationError("ocr.recognize", req.SessionID, err)
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	in := wireRequest{
		SessionID: req.SessionID,
		Region:    string(req.Region),
		Whitelist: req.Whitelist,
		ImagePNG:  buf.Bytes(),
	}
	var out wireResponse
	if err := g.conn.Invoke(callCtx, recognizeMethod, &in, &out); err != nil {
		wrapped := logging.NewOperationError("ocr.recognize", req.SessionID, err)
		g.logger.Warn("recognizer call failed",
			zap.Error(wrapped),
			zap.String("region", string(req.Region)))
		return nil, wrapped
	}
	return out.Lines, nil
}
