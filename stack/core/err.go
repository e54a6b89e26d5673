// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

// Err is the stack wide return code. It is returned by value, ErrOK means success.
type Err int8

const (
	ErrOK         Err = 0   /* No error, everything OK. */
	ErrMem        Err = -1  /* Out of memory error.     */
	ErrBuf        Err = -2  /* Buffer error.            */
	ErrTimeout    Err = -3  /* Timeout.                 */
	ErrRte        Err = -4  /* Routing problem.         */
	ErrInProgress Err = -5  /* Operation in progress    */
	ErrVal        Err = -6  /* Illegal value.           */
	ErrWouldBlock Err = -7  /* Operation would block.   */
	ErrUse        Err = -8  /* Address in use.          */
	ErrIsConn     Err = -9  /* Already connected.       */
	ErrAbrt       Err = -10 /* Connection aborted.      */
	ErrRst        Err = -11 /* Connection reset.        */
	ErrClsd       Err = -12 /* Connection closed.       */
	ErrConn       Err = -13 /* Not connected.           */
	ErrArg        Err = -14 /* Illegal argument.        */
	ErrIf         Err = -15 /* Low-level netif error    */
)

// IsFatal returns true for the errors that end a connection
func (o Err) IsFatal() bool {
	return o <= ErrAbrt
}

// String convert err to string
func (o Err) String() string {
	switch o {
	case ErrOK:
		return "Ok."
	case ErrMem:
		return "Out of memory error."
	case ErrBuf:
		return "Buffer error."
	case ErrTimeout:
		return "Timeout."
	case ErrRte:
		return "Routing problem."
	case ErrInProgress:
		return "Operation in progress."
	case ErrVal:
		return "Illegal value."
	case ErrWouldBlock:
		return "Operation would block."
	case ErrUse:
		return "Address in use."
	case ErrIsConn:
		return "Already connected."
	case ErrAbrt:
		return "Connection aborted."
	case ErrRst:
		return "Connection reset."
	case ErrClsd:
		return "Connection closed."
	case ErrConn:
		return "Not connected."
	case ErrArg:
		return "Illegal argument."
	case ErrIf:
		return "Low-level netif error."
	default:
		return "Unknown error."
	}
}

func (o Err) Error() string {
	return o.String()
}
