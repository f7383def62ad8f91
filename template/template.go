// Package template is the deterministic fallback generator. It maps a task
// to a fixed scaffold without consulting any external service, so the same
// task always yields the same files. Worker agents fall back to it whenever
// a generation backend call fails for any reason.
package template

import (
	"fmt"

	"github.com/forgemesh/forgemesh/core"
)

// File is one generated scaffold file.
type File struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Scaffold is the deterministic output for one task.
type Scaffold struct {
	Files []File `json:"files"`
	Notes string `json:"notes,omitempty"`
}

// Generator produces deterministic scaffolds keyed by task kind.
type Generator struct {
	kinds map[core.TaskKind][]fileTemplate
}

type fileTemplate struct {
	name    string
	content string
}

// NewGenerator creates a Generator covering every task kind.
func NewGenerator() *Generator {
	return &Generator{kinds: defaultTemplates()}
}

// Generate renders the scaffold for a task. It is a pure function of the
// task's kind, title, and project id; unknown kinds fail with a
// PermanentFailure since no retry can help.
func (g *Generator) Generate(task core.Task) (Scaffold, error) {
	templates, ok := g.kinds[task.Kind]
	if !ok {
		return Scaffold{}, &core.PermanentFailure{
			Op:     "template generate",
			Reason: fmt.Sprintf("no scaffold for task kind %q", task.Kind),
		}
	}

	state := map[string]any{
		"Title":     task.Title,
		"ProjectID": task.ProjectID,
		"Phase":     task.Phase,
		"Kind":      string(task.Kind),
	}

	scaffold := Scaffold{
		Notes: fmt.Sprintf("deterministic %s scaffold for %q", task.Kind, task.Title),
	}
	for _, ft := range templates {
		name, err := render(ft.name, state)
		if err != nil {
			return Scaffold{}, fmt.Errorf("render file name %s: %w", ft.name, err)
		}
		content, err := render(ft.content, state)
		if err != nil {
			return Scaffold{}, fmt.Errorf("render file %s: %w", ft.name, err)
		}
		scaffold.Files = append(scaffold.Files, File{Name: name, Content: content})
	}
	return scaffold, nil
}

func defaultTemplates() map[core.TaskKind][]fileTemplate {
	return map[core.TaskKind][]fileTemplate{
		core.KindFrontend: {
			{
				name: "package.json",
				content: `{
  "name": "{{slug .Title}}",
  "version": "0.1.0",
  "private": true,
  "dependencies": {
    "react": "^18.2.0",
    "react-dom": "^18.2.0",
    "react-scripts": "5.0.1"
  },
  "scripts": {
    "start": "react-scripts start",
    "build": "react-scripts build",
    "test": "react-scripts test"
  }
}
`,
			},
			{
				name: "src/App.jsx",
				content: `import React from 'react';

function App() {
  return (
    <div className="app">
      <h1>{{.Title}}</h1>
    </div>
  );
}

export default App;
`,
			},
			{
				name: "src/index.js",
				content: `import React from 'react';
import ReactDOM from 'react-dom/client';
import App from './App';

const root = ReactDOM.createRoot(document.getElementById('root'));
root.render(<App />);
`,
			},
		},
		core.KindBackend: {
			{
				name: "main.py",
				content: `from fastapi import FastAPI
from fastapi.middleware.cors import CORSMiddleware

app = FastAPI(title="{{.Title}}", version="1.0.0")

app.add_middleware(
    CORSMiddleware,
    allow_origins=["*"],
    allow_credentials=True,
    allow_methods=["*"],
    allow_headers=["*"],
)


@app.get("/health")
def health():
    return {"status": "ok"}
`,
			},
			{
				name: "requirements.txt",
				content: `fastapi>=0.100.0
uvicorn[standard]>=0.23.0
sqlalchemy>=2.0.0
pydantic>=2.0.0
`,
			},
		},
		core.KindDatabase: {
			{
				name: "schema.sql",
				content: `-- {{.Title}}
CREATE TABLE IF NOT EXISTS items (
    id SERIAL PRIMARY KEY,
    title VARCHAR(255) NOT NULL,
    completed BOOLEAN DEFAULT FALSE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`,
			},
			{
				name: "models.py",
				content: `from sqlalchemy import Boolean, Column, DateTime, Integer, String, func
from sqlalchemy.orm import declarative_base

Base = declarative_base()


class Item(Base):
    __tablename__ = "items"

    id = Column(Integer, primary_key=True, index=True)
    title = Column(String(255), nullable=False)
    completed = Column(Boolean, default=False)
    created_at = Column(DateTime, server_default=func.now())
`,
			},
		},
		core.KindDevOps: {
			{
				name: "Dockerfile",
				content: `FROM python:3.11-slim

WORKDIR /app
COPY requirements.txt .
RUN pip install --no-cache-dir -r requirements.txt
COPY . .

EXPOSE 8000
CMD ["uvicorn", "main:app", "--host", "0.0.0.0", "--port", "8000"]
`,
			},
			{
				name: "docker-compose.yml",
				content: `services:
  api:
    build: .
    ports:
      - "8000:8000"
    depends_on:
      - db
  db:
    image: postgres:15
    environment:
      POSTGRES_DB: {{slug .Title}}
      POSTGRES_PASSWORD: postgres
`,
			},
		},
		core.KindQuality: {
			{
				name: "test_api.py",
				content: `from fastapi.testclient import TestClient

from main import app

client = TestClient(app)


def test_health():
    response = client.get("/health")
    assert response.status_code == 200
    assert response.json() == {"status": "ok"}
`,
			},
			{
				name: "TEST_PLAN.md",
				content: `# Test plan: {{.Title}}

- Health endpoint responds 200
- CRUD round trip persists items
- Invalid payloads rejected with 422
`,
			},
		},
	}
}
