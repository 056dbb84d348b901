//  _   _     _                                _
// | |_(_) __| | ___ _ __ ___   __ _ _ __| | __
// | __| |/ _` |/ _ \ '_ ` _ \ / _` | '__| |/ /
// | |_| | (_| |  __/ | | | | | (_| | |  |   <
//  \__|_|\__,_|\___|_| |_| |_|\__,_|_|  |_|\_\
//
//  Copyright © 2026 Tidemark B.V. All rights reserved.
//
//  CONTACT: hello@tidemark.io
//

package errorcompounder

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrorCompounder collects errors from multi-step operations (shutdown,
// drop, truncate cascades) into a single error value. Safe for concurrent
// use.
type ErrorCompounder struct {
	sync.Mutex
	errors []error
}

func New() *ErrorCompounder {
	return &ErrorCompounder{}
}

func (ec *ErrorCompounder) Add(err error) {
	if err == nil {
		return
	}
	ec.Lock()
	defer ec.Unlock()
	ec.errors = append(ec.errors, err)
}

func (ec *ErrorCompounder) Addf(format string, args ...interface{}) {
	ec.Lock()
	defer ec.Unlock()
	ec.errors = append(ec.errors, errors.Errorf(format, args...))
}

func (ec *ErrorCompounder) AddWrap(err error, msg string) {
	if err == nil {
		return
	}
	ec.Lock()
	defer ec.Unlock()
	ec.errors = append(ec.errors, errors.Wrap(err, msg))
}

func (ec *ErrorCompounder) Len() int {
	ec.Lock()
	defer ec.Unlock()
	return len(ec.errors)
}

func (ec *ErrorCompounder) First() error {
	ec.Lock()
	defer ec.Unlock()
	if len(ec.errors) == 0 {
		return nil
	}
	return ec.errors[0]
}

// ToError flattens all collected errors into one, or returns nil if none
// were collected.
func (ec *ErrorCompounder) ToError() error {
	ec.Lock()
	defer ec.Unlock()

	switch len(ec.errors) {
	case 0:
		return nil
	case 1:
		return ec.errors[0]
	default:
		var sb strings.Builder
		for i, err := range ec.errors {
			if i != 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(err.Error())
		}
		return errors.New(sb.String())
	}
}
