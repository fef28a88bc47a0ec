package errors

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump is what responses log for 5xx errors. Store holds whatever the
// failing backend reported: postgres SQLSTATE fields or a DynamoDB API error.
type ErrorDump struct {
	TopMessage string    `json:"top_message"`
	Code       Code      `json:"code,omitempty"`
	Chain      []string  `json:"chain,omitempty"`
	Store      *StoreErr `json:"store,omitempty"`
}

type StoreErr struct {
	Backend    string   `json:"backend"`
	Code       string   `json:"code,omitempty"`
	Message    string   `json:"message,omitempty"`
	Table      string   `json:"table,omitempty"`
	Constraint string   `json:"constraint,omitempty"`
	Detail     string   `json:"detail,omitempty"`
	Fault      string   `json:"fault,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	d.Store = storeErr(err)
	return d
}

func storeErr(err error) *StoreErr {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &StoreErr{
			Backend:    "postgres",
			Code:       pgxErr.Code,
			Message:    pgxErr.Message,
			Table:      pgxErr.TableName,
			Constraint: pgxErr.ConstraintName,
			Detail:     pgxErr.Detail,
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &StoreErr{
			Backend:    "postgres",
			Code:       string(pqErr.Code),
			Message:    pqErr.Message,
			Table:      pqErr.Table,
			Constraint: pqErr.Constraint,
			Detail:     pqErr.Detail,
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		out := &StoreErr{
			Backend: "dynamodb",
			Code:    apiErr.ErrorCode(),
			Message: apiErr.ErrorMessage(),
			Fault:   apiErr.ErrorFault().String(),
		}
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			for _, r := range canceled.CancellationReasons {
				if r.Code != nil {
					out.Reasons = append(out.Reasons, *r.Code)
				}
			}
		}
		return out
	}
	return nil
}
