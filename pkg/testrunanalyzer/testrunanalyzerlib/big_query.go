package testrunanalyzerlib

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"reflect"

	"cloud.google.com/go/bigquery"
	"github.com/spf13/pflag"

	"github.com/openshift/testrun-analyzer/pkg/testrunanalyzer/testrunanalyzerapi"
)

// BigQueryDataCoordinates names the dataset analysis results are uploaded to. Uploading
// is disabled while no dataset is set.
type BigQueryDataCoordinates struct {
	ProjectID string
	DataSetID string
	TableName string
}

func NewBigQueryDataCoordinates() *BigQueryDataCoordinates {
	return &BigQueryDataCoordinates{
		TableName: testrunanalyzerapi.IssuesTableName,
	}
}

func (f *BigQueryDataCoordinates) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.ProjectID, "google-project-id", f.ProjectID, "project ID where results are stored")
	fs.StringVar(&f.DataSetID, "bigquery-dataset", f.DataSetID, "bigquery dataset to upload the found issues to, empty disables the upload")
	fs.StringVar(&f.TableName, "bigquery-table", f.TableName, "bigquery table the found issues are inserted into")
}

func (f *BigQueryDataCoordinates) Enabled() bool {
	return len(f.DataSetID) > 0
}

func (f *BigQueryDataCoordinates) Validate() error {
	if !f.Enabled() {
		return nil
	}
	if len(f.ProjectID) == 0 {
		return fmt.Errorf("--google-project-id must be specified together with --bigquery-dataset")
	}
	if len(f.TableName) == 0 {
		return fmt.Errorf("--bigquery-table must not be empty")
	}
	return nil
}

func (f *BigQueryDataCoordinates) String() string {
	return f.ProjectID + "." + f.DataSetID + "." + f.TableName
}

type BigQueryInserter interface {
	Put(ctx context.Context, src interface{}) (err error)
}

// EnsureIssuesTable creates the issues table unless it already exists.
func EnsureIssuesTable(ctx context.Context, table *bigquery.Table) error {
	if _, err := table.Metadata(ctx); err == nil {
		return nil
	}
	schema, err := bigquery.SchemaFromJSON([]byte(testrunanalyzerapi.IssuesSchema))
	if err != nil {
		return fmt.Errorf("invalid issues schema: %w", err)
	}
	if err := table.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table.FullyQualifiedName(), err)
	}
	return nil
}

type dryRunInserter struct {
	table string
	out   io.Writer
}

func NewDryRunInserter(out io.Writer, table string) BigQueryInserter {
	return dryRunInserter{
		table: table,
		out:   out,
	}
}

func (d dryRunInserter) Put(ctx context.Context, src interface{}) (err error) {
	srcVal := reflect.ValueOf(src)
	if srcVal.Kind() != reflect.Slice {
		fmt.Fprintf(d.out, "INSERT into %v: %v\n", d.table, src)
		return
	}

	if srcVal.Len() == 0 {
		return
	}

	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "BULK INSERT into %v\n", d.table)
	for i := 0; i < srcVal.Len(); i++ {
		switch s := srcVal.Index(i).Interface().(type) {
		case *testrunanalyzerapi.IssueRow:
			fmt.Fprintf(buf, "\tINSERT into %v: anchor=%q, analyzer=%v, severity=%v, message=%q\n", d.table, s.Anchor, s.Issue.Analyzer, s.Issue.Severity, s.Issue.Message)
		default:
			fmt.Fprintf(buf, "\tINSERT into %v: %#v\n", d.table, s)
		}
	}
	fmt.Fprint(d.out, buf.String())

	return nil
}
