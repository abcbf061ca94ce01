//go:build linux

// Package vaapi wraps the libav VAAPI hardware context: an NV12 surface pool
// on a DRM card whose surfaces are exported as DMA-BUF planes, and an
// encoder consuming those surfaces.
package vaapi

/*
#cgo pkg-config: libavcodec libavutil libva libva-drm
#include <libavcodec/avcodec.h>
#include <libavutil/hwcontext.h>
#include <libavutil/hwcontext_vaapi.h>
#include <va/va.h>
#include <va/va_drmcommon.h>
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
	AVBufferRef *device_ctx;
	AVBufferRef *frames_ctx;
	VADisplay va_dpy;
} VaapiDevice;

static void vaapi_device_destroy(VaapiDevice *d) {
	if (!d) return;
	if (d->frames_ctx) av_buffer_unref(&d->frames_ctx);
	if (d->device_ctx) av_buffer_unref(&d->device_ctx);
	free(d);
}

static VaapiDevice* vaapi_device_init(const char *card, int width, int height, int *err) {
	VaapiDevice *d = (VaapiDevice*)calloc(1, sizeof(VaapiDevice));
	if (!d) { *err = AVERROR(ENOMEM); return NULL; }

	*err = av_hwdevice_ctx_create(&d->device_ctx, AV_HWDEVICE_TYPE_VAAPI, card, NULL, 0);
	if (*err < 0) {
		vaapi_device_destroy(d);
		return NULL;
	}

	AVHWDeviceContext *hw = (AVHWDeviceContext*)d->device_ctx->data;
	d->va_dpy = ((AVVAAPIDeviceContext*)hw->hwctx)->display;

	d->frames_ctx = av_hwframe_ctx_alloc(d->device_ctx);
	if (!d->frames_ctx) {
		*err = AVERROR(ENOMEM);
		vaapi_device_destroy(d);
		return NULL;
	}

	AVHWFramesContext *frames = (AVHWFramesContext*)d->frames_ctx->data;
	frames->format = AV_PIX_FMT_VAAPI;
	frames->sw_format = AV_PIX_FMT_NV12;
	frames->width = width;
	frames->height = height;
	frames->initial_pool_size = 1;

	*err = av_hwframe_ctx_init(d->frames_ctx);
	if (*err < 0) {
		vaapi_device_destroy(d);
		return NULL;
	}
	return d;
}

static AVFrame* vaapi_frame_alloc(VaapiDevice *d, int *err) {
	AVFrame *f = av_frame_alloc();
	if (!f) { *err = AVERROR(ENOMEM); return NULL; }
	*err = av_hwframe_get_buffer(d->frames_ctx, f, 0);
	if (*err < 0) {
		av_frame_free(&f);
		return NULL;
	}
	return f;
}

static void vaapi_frame_free(AVFrame *f) { av_frame_free(&f); }

static VASurfaceID vaapi_frame_surface(AVFrame *f) {
	return (VASurfaceID)(uintptr_t)f->data[3];
}

static int vaapi_export(VaapiDevice *d, AVFrame *f, VADRMPRIMESurfaceDescriptor *desc) {
	memset(desc, 0, sizeof(*desc));
	return vaExportSurfaceHandle(d->va_dpy, vaapi_frame_surface(f),
		VA_SURFACE_ATTRIB_MEM_TYPE_DRM_PRIME_2,
		VA_EXPORT_SURFACE_READ_WRITE | VA_EXPORT_SURFACE_SEPARATE_LAYERS,
		desc);
}

static int vaapi_sync(VaapiDevice *d, AVFrame *f) {
	return vaSyncSurface(d->va_dpy, vaapi_frame_surface(f));
}

typedef struct {
	AVCodecContext *ctx;
	AVPacket *pkt;
	int64_t pts;
} VaapiEncoder;

static void vaapi_encoder_destroy(VaapiEncoder *e) {
	if (!e) return;
	if (e->pkt) av_packet_free(&e->pkt);
	if (e->ctx) avcodec_free_context(&e->ctx);
	free(e);
}

static VaapiEncoder* vaapi_encoder_init(VaapiDevice *d, const char *codec_name, int fps, int *err) {
	const AVCodec *codec = avcodec_find_encoder_by_name(codec_name);
	if (!codec) { *err = AVERROR_ENCODER_NOT_FOUND; return NULL; }

	VaapiEncoder *e = (VaapiEncoder*)calloc(1, sizeof(VaapiEncoder));
	if (!e) { *err = AVERROR(ENOMEM); return NULL; }

	e->ctx = avcodec_alloc_context3(codec);
	if (!e->ctx) {
		*err = AVERROR(ENOMEM);
		vaapi_encoder_destroy(e);
		return NULL;
	}

	AVHWFramesContext *frames = (AVHWFramesContext*)d->frames_ctx->data;
	e->ctx->width = frames->width;
	e->ctx->height = frames->height;
	e->ctx->time_base = (AVRational){1, fps};
	e->ctx->framerate = (AVRational){fps, 1};
	e->ctx->pix_fmt = AV_PIX_FMT_VAAPI;
	e->ctx->sw_pix_fmt = AV_PIX_FMT_NV12;
	e->ctx->gop_size = fps * 2;
	e->ctx->max_b_frames = 0;
	e->ctx->flags |= AV_CODEC_FLAG_LOW_DELAY;
	e->ctx->hw_frames_ctx = av_buffer_ref(d->frames_ctx);

	*err = avcodec_open2(e->ctx, codec, NULL);
	if (*err < 0) {
		vaapi_encoder_destroy(e);
		return NULL;
	}

	e->pkt = av_packet_alloc();
	if (!e->pkt) {
		*err = AVERROR(ENOMEM);
		vaapi_encoder_destroy(e);
		return NULL;
	}
	return e;
}

static int vaapi_encoder_send(VaapiEncoder *e, AVFrame *f) {
	f->pts = e->pts++;
	return avcodec_send_frame(e->ctx, f);
}

// 1 when a packet is ready, 0 when the encoder needs more input, <0 on error.
static int vaapi_encoder_receive(VaapiEncoder *e) {
	int ret = avcodec_receive_packet(e->ctx, e->pkt);
	if (ret == AVERROR(EAGAIN) || ret == AVERROR_EOF) return 0;
	if (ret < 0) return ret;
	return 1;
}

static void vaapi_encoder_unref(VaapiEncoder *e) { av_packet_unref(e->pkt); }

static const char* vaapi_encoder_name(VaapiEncoder *e) { return e->ctx->codec->name; }

static const char* vaapi_err2str(int err, char *buf, size_t size) {
	av_strerror(err, buf, size);
	return buf;
}
*/
import "C"
import (
	"errors"
	"fmt"
	"unsafe"

	"kmscap/internal/logging"
	"kmscap/internal/types"
)

var log = logging.L("vaapi")

func averror(err C.int) error {
	var buf [128]C.char
	return errors.New(C.GoString(C.vaapi_err2str(err, &buf[0], C.size_t(len(buf)))))
}

// Device is a VAAPI device context with a one-surface NV12 frame pool.
type Device struct {
	d      *C.VaapiDevice
	width  int
	height int
}

// OpenDevice creates a VAAPI device on cardPath with frames of width x height.
func OpenDevice(cardPath string, width, height int) (*Device, error) {
	cCard := C.CString(cardPath)
	defer C.free(unsafe.Pointer(cCard))

	var cerr C.int
	d := C.vaapi_device_init(cCard, C.int(width), C.int(height), &cerr)
	if d == nil {
		return nil, fmt.Errorf("failed to create vaapi context on %s: %w", cardPath, averror(cerr))
	}
	log.Info("vaapi device opened", "card", cardPath, "width", width, "height", height)
	return &Device{d: d, width: width, height: height}, nil
}

func (d *Device) AllocFrame() (types.HWFrame, error) {
	var cerr C.int
	f := C.vaapi_frame_alloc(d.d, &cerr)
	if f == nil {
		return nil, fmt.Errorf("failed to allocate vaapi frame: %w", averror(cerr))
	}
	return &Frame{f: f, dev: d}, nil
}

func (d *Device) Close() {
	if d == nil || d.d == nil {
		return
	}
	C.vaapi_device_destroy(d.d)
	d.d = nil
}

// Frame is one VAAPI surface from the device pool.
type Frame struct {
	f   *C.AVFrame
	dev *Device
}

// ExportPrime exports the surface with each plane as its own layer. The
// returned descriptor owns the exported fds.
func (f *Frame) ExportPrime() (*types.PrimeDescriptor, error) {
	var desc C.VADRMPRIMESurfaceDescriptor
	if st := C.vaapi_export(f.dev.d, f.f, &desc); st != C.VA_STATUS_SUCCESS {
		return nil, fmt.Errorf("vaExportSurfaceHandle failed: %s", C.GoString(C.vaErrorStr(C.VAStatus(st))))
	}

	p := &types.PrimeDescriptor{
		FourCC: uint32(desc.fourcc),
		Width:  uint32(desc.width),
		Height: uint32(desc.height),
	}
	for i := 0; i < int(desc.num_objects); i++ {
		o := desc.objects[i]
		p.Objects = append(p.Objects, types.PrimeObject{
			FD:       int(o.fd),
			Size:     uint32(o.size),
			Modifier: uint64(o.drm_format_modifier),
		})
	}
	for i := 0; i < int(desc.num_layers); i++ {
		l := desc.layers[i]
		layer := types.PrimeLayer{
			DRMFormat: uint32(l.drm_format),
			NumPlanes: int(l.num_planes),
		}
		for j := 0; j < 4; j++ {
			layer.ObjectIndex[j] = uint32(l.object_index[j])
			layer.Offset[j] = uint32(l.offset[j])
			layer.Pitch[j] = uint32(l.pitch[j])
		}
		p.Layers = append(p.Layers, layer)
	}
	return p, nil
}

func (f *Frame) Sync() error {
	if st := C.vaapi_sync(f.dev.d, f.f); st != C.VA_STATUS_SUCCESS {
		return fmt.Errorf("vaSyncSurface failed: %s", C.GoString(C.vaErrorStr(C.VAStatus(st))))
	}
	return nil
}

func (f *Frame) Free() {
	if f.f == nil {
		return
	}
	C.vaapi_frame_free(f.f)
	f.f = nil
}

// Encoder feeds device frames to h264_vaapi or hevc_vaapi.
type Encoder struct {
	e *C.VaapiEncoder
}

var codecNames = map[string]string{
	"h264": "h264_vaapi",
	"hevc": "hevc_vaapi",
}

func NewEncoder(dev *Device, codec string, fps int) (*Encoder, error) {
	name, ok := codecNames[codec]
	if !ok {
		return nil, fmt.Errorf("unsupported codec %q", codec)
	}
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	var cerr C.int
	e := C.vaapi_encoder_init(dev.d, cName, C.int(fps), &cerr)
	if e == nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, averror(cerr))
	}
	log.Info("video encoder opened", "codec", C.GoString(C.vaapi_encoder_name(e)),
		"width", dev.width, "height", dev.height, "fps", fps)
	return &Encoder{e: e}, nil
}

// Encode submits frame and returns every packet the encoder has ready.
func (enc *Encoder) Encode(frame types.HWFrame) ([][]byte, error) {
	f, ok := frame.(*Frame)
	if !ok || f.f == nil {
		return nil, fmt.Errorf("vaapi encoder received a foreign frame")
	}
	if ret := C.vaapi_encoder_send(enc.e, f.f); ret < 0 {
		return nil, fmt.Errorf("avcodec_send_frame: %w", averror(ret))
	}

	var packets [][]byte
	for {
		ret := C.vaapi_encoder_receive(enc.e)
		if ret == 0 {
			return packets, nil
		}
		if ret < 0 {
			return packets, fmt.Errorf("avcodec_receive_packet: %w", averror(ret))
		}
		pkt := enc.e.pkt
		packets = append(packets, C.GoBytes(unsafe.Pointer(pkt.data), pkt.size))
		C.vaapi_encoder_unref(enc.e)
	}
}

func (enc *Encoder) Close() {
	if enc == nil || enc.e == nil {
		return
	}
	C.vaapi_encoder_destroy(enc.e)
	enc.e = nil
}
