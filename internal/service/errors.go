package service

import "errors"

// ErrPromptNotFound indicates the prompt version cannot be located.
var ErrPromptNotFound = errors.New("prompt not found")

// ErrNoActivePrompt indicates the task has no active prompt version.
var ErrNoActivePrompt = errors.New("no active prompt for task")

// ErrPromptTaskMismatch indicates a parent prompt belongs to another task.
var ErrPromptTaskMismatch = errors.New("parent prompt belongs to a different task")

// ErrDatasetNotFound indicates the validation dataset cannot be located.
var ErrDatasetNotFound = errors.New("dataset not found")

// ErrTestCaseNotInDataset indicates a result references a test case outside the dataset.
var ErrTestCaseNotInDataset = errors.New("test case does not belong to dataset")

// ErrExecutionNotFound indicates the test execution cannot be located.
var ErrExecutionNotFound = errors.New("test execution not found")

// ErrOptimizationNotFound indicates the optimization id is unknown.
var ErrOptimizationNotFound = errors.New("optimization not found")

// ErrOptimizationScopeRequired indicates neither a prompt nor a task was given.
var ErrOptimizationScopeRequired = errors.New("prompt_id or task is required")
