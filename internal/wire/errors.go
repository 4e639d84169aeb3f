package wire

import "github.com/nsblast/nsblast/internal/xlog"

func newError(values ...interface{}) *xlog.Error {
	return xlog.New(values...)
}
