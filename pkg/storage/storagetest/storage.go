// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package storagetest

import (
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"time"

	stdruntime "runtime"

	"github.com/pbinitiative/zenengine/pkg/bpmn/model"
	bpmnruntime "github.com/pbinitiative/zenengine/pkg/bpmn/runtime"
	"github.com/pbinitiative/zenengine/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type StorageTestFunc func(s storage.Storage, t *testing.T) func(t *testing.T)

type StorageTester struct {
	processDefinition bpmnruntime.ProcessDefinition
	processInstance   bpmnruntime.ProcessInstance
}

func (st *StorageTester) GetTests() map[string]StorageTestFunc {
	tests := map[string]StorageTestFunc{}

	// all test functions need to be registered here
	functions := []StorageTestFunc{
		st.TestProcessDefinitionStorageWriter,
		st.TestProcessDefinitionStorageReader,
		st.TestProcessDefinitionVersions,
		st.TestProcessInstanceStorageWriter,
		st.TestProcessInstanceStorageReader,
		st.TestNotFound,
	}

	for _, function := range functions {
		funcName := getFunctionName(function)
		strippedName := funcName[strings.LastIndex(funcName, ".")+1:]
		strippedName = strings.TrimSuffix(strippedName, "-fm")
		tests[strippedName] = function
	}
	return tests
}

func getFunctionName(i any) string {
	return stdruntime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func generateId() int64 {
	return rand.Int63()
}

func getProcessDefinition(r int64, version int32) bpmnruntime.ProcessDefinition {
	b := model.NewBuilder(fmt.Sprintf("id-%d", r))
	b.StartEvent("start")
	b.EndEvent("end")
	b.Chain("start", "end")
	def, err := b.Build(model.BuildOptions{})
	if err != nil {
		panic(err)
	}
	return bpmnruntime.ProcessDefinition{
		BpmnProcessId: def.Id,
		Version:       version,
		Key:           r,
		Definition:    def,
		RegisteredAt:  time.Now().Truncate(time.Millisecond),
	}
}

func getProcessInstance(r int64, d bpmnruntime.ProcessDefinition) bpmnruntime.ProcessInstance {
	vs := bpmnruntime.NewVariableScope(nil, map[string]any{
		"v1":   float64(123),
		"var2": "val2",
	})
	pi := bpmnruntime.NewProcessInstance(r, d, vs)
	pi.State = bpmnruntime.ProcessStateCompleted
	pi.CompletedNodes = []string{"start", "end"}
	return *pi
}

func (st *StorageTester) PrepareTestData(s storage.Storage, t *testing.T) {
	r := generateId()

	st.processDefinition = getProcessDefinition(r, 1)
	err := s.SaveProcessDefinition(t.Context(), st.processDefinition)
	assert.NoError(t, err)

	st.processInstance = getProcessInstance(r, st.processDefinition)
	err = s.SaveProcessInstance(t.Context(), st.processInstance)
	assert.NoError(t, err)
}

func (st *StorageTester) TestProcessDefinitionStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := generateId()

		def := getProcessDefinition(r, 1)

		err := s.SaveProcessDefinition(t.Context(), def)
		assert.NoError(t, err)

		definition, err := s.FindProcessDefinitionByKey(t.Context(), r)
		assert.NoError(t, err)
		assert.Equal(t, r, definition.Key)
		assert.Same(t, def.Definition, definition.Definition)
	}
}

func (st *StorageTester) TestProcessDefinitionStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		definition, err := s.FindLatestProcessDefinitionById(t.Context(), st.processDefinition.BpmnProcessId)
		assert.NoError(t, err)
		assert.Equal(t, st.processDefinition.Key, definition.Key)

		definition, err = s.FindProcessDefinitionByKey(t.Context(), st.processDefinition.Key)
		assert.NoError(t, err)
		assert.Equal(t, st.processDefinition.BpmnProcessId, definition.BpmnProcessId)

		definitions, err := s.FindProcessDefinitionsById(t.Context(), st.processDefinition.BpmnProcessId)
		assert.NoError(t, err)
		assert.Len(t, definitions, 1)
		assert.Equal(t, definitions[0].Key, definition.Key)

		all, err := s.FindAllLatestProcessDefinitions(t.Context())
		assert.NoError(t, err)
		assert.NotEmpty(t, all)
	}
}

func (st *StorageTester) TestProcessDefinitionVersions(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := generateId()
		v1 := getProcessDefinition(r, 1)
		v2 := getProcessDefinition(r, 2)
		v2.Key = r + 1

		require.NoError(t, s.SaveProcessDefinition(t.Context(), v2))
		require.NoError(t, s.SaveProcessDefinition(t.Context(), v1))

		latest, err := s.FindLatestProcessDefinitionById(t.Context(), v1.BpmnProcessId)
		require.NoError(t, err)
		assert.Equal(t, int32(2), latest.Version)

		definitions, err := s.FindProcessDefinitionsById(t.Context(), v1.BpmnProcessId)
		require.NoError(t, err)
		require.Len(t, definitions, 2)
		assert.Equal(t, int32(1), definitions[0].Version)
		assert.Equal(t, int32(2), definitions[1].Version)
	}
}

func (st *StorageTester) TestProcessInstanceStorageWriter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		r := generateId()
		inst := getProcessInstance(r, st.processDefinition)

		err := s.SaveProcessInstance(t.Context(), inst)
		assert.NoError(t, err)

		found, err := s.FindProcessInstanceByKey(t.Context(), r)
		assert.NoError(t, err)
		assert.Equal(t, bpmnruntime.ProcessStateCompleted, found.State)
	}
}

func (st *StorageTester) TestProcessInstanceStorageReader(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		found, err := s.FindProcessInstanceByKey(t.Context(), st.processInstance.Key)
		assert.NoError(t, err)
		assert.Equal(t, st.processInstance.ProcessId, found.ProcessId)
		assert.Equal(t, "val2", found.GetVariable("var2"))
		assert.Equal(t, []string{"start", "end"}, found.CompletedNodes)
	}
}

func (st *StorageTester) TestNotFound(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		_, err := s.FindProcessDefinitionByKey(t.Context(), -1)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = s.FindLatestProcessDefinitionById(t.Context(), "does-not-exist")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		_, err = s.FindProcessInstanceByKey(t.Context(), -1)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		definitions, err := s.FindProcessDefinitionsById(t.Context(), "does-not-exist")
		assert.NoError(t, err)
		assert.Empty(t, definitions)
	}
}
